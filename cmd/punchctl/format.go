package main

import (
	"fmt"
	"strings"
	"time"

	"attendance.org/internal/attendance"
	"attendance.org/internal/ids"
	"attendance.org/internal/ledger"
	"attendance.org/internal/punch"
	"attendance.org/internal/session"
	"attendance.org/internal/shift"
)

func civilClock(t time.Time, offset int) string {
	return t.In(shift.Zone(offset)).Format("15:04")
}

func describeResult(res punch.Result, offset int) string {
	var b strings.Builder
	verb := "in"
	if res.Event.Kind == attendance.Out {
		verb = "out"
	}
	at := res.Event.RequestedAt
	if !res.Event.ServerTime.IsZero() {
		at = res.Event.ServerTime
	}
	fmt.Fprintf(&b, "Punched %s at %s", verb, civilClock(at, offset))
	if c := res.Classification; c != nil {
		switch c.Status {
		case shift.Late:
			fmt.Fprintf(&b, ", late by %d min", c.OffsetMinutes)
		case shift.Early:
			fmt.Fprintf(&b, ", early by %d min", c.OffsetMinutes)
		default:
			b.WriteString(", on time")
		}
	}
	if g := res.Geofence; g != nil {
		fmt.Fprintf(&b, " (%d m from office)", g.RoundedMeters())
	}
	b.WriteString(".")
	return b.String()
}

func describeState(d punch.DayState, offset int) string {
	switch d.Phase {
	case punch.PunchedIn:
		if d.PunchInAt != nil {
			return fmt.Sprintf("%s: punched in at %s.", d.Date, civilClock(*d.PunchInAt, offset))
		}
		return fmt.Sprintf("%s: punched in.", d.Date)
	case punch.PunchedOut:
		if d.PunchInAt != nil && d.PunchOutAt != nil {
			return fmt.Sprintf("%s: punched in at %s, out at %s.", d.Date,
				civilClock(*d.PunchInAt, offset), civilClock(*d.PunchOutAt, offset))
		}
		return fmt.Sprintf("%s: punched out.", d.Date)
	}
	return fmt.Sprintf("%s: not punched in yet.", d.Date)
}

func expiryNote(t session.Tokens) string {
	exp, ok := t.AccessExpiry()
	if !ok {
		return ""
	}
	return fmt.Sprintf(" Access token valid until %s.", exp.UTC().Format(time.RFC3339))
}

func ledgerRow(e ledger.Entry, offset int) string {
	reason := e.Event.Reason
	if reason == "" {
		reason = "-"
	}
	requested := civilStamp(e.Event.RequestedAt, offset)
	// The entry id carries the instant it was recorded.
	recorded := "-"
	if t, ok := ids.Time(e.ID); ok {
		recorded = civilStamp(t, offset)
	}
	return fmt.Sprintf("%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s",
		e.Sequence, e.LocalDate, e.Event.Kind, e.Event.Outcome, reason, e.SyncStatus, requested, recorded)
}

func civilStamp(t time.Time, offset int) string {
	if t.IsZero() {
		return "-"
	}
	return t.In(shift.Zone(offset)).Format("2006-01-02 15:04:05")
}

// describeAttempt summarizes the latest ledger entry for one kind.
func describeAttempt(e ledger.Entry, offset int) string {
	line := fmt.Sprintf("Last %s attempt at %s: %s", e.Event.Kind, civilClock(e.Event.RequestedAt, offset), e.Event.Outcome)
	if e.Event.Reason != "" {
		line += " (" + strings.ReplaceAll(e.Event.Reason, "_", " ") + ")"
	}
	return line + "."
}
