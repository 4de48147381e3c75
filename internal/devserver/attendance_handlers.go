package devserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"attendance.org/internal/attendance"
	"attendance.org/internal/audit"
	"attendance.org/internal/auth"
	"attendance.org/internal/geo"
	"attendance.org/internal/ledger"
	"attendance.org/internal/shift"
)

type punchRequest struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Latitude  *float64  `json:"latitude"`
	Longitude *float64  `json:"longitude"`
}

// dayRecord is the server's authoritative attendance for one employee and
// civil day.
type dayRecord struct {
	Date       string     `json:"date"`
	PunchInAt  *time.Time `json:"punch_in_at,omitempty"`
	PunchOutAt *time.Time `json:"punch_out_at,omitempty"`
}

type punchResponse struct {
	Type       attendance.Kind `json:"type"`
	Date       string          `json:"date"`
	ServerTime time.Time       `json:"server_time"`
	// DeviceSkewSeconds is device timestamp minus server time.
	DeviceSkewSeconds int64 `json:"device_skew_seconds"`
}

func dayKey(userID, date string) string { return "server/day/" + userID + "/" + date }

func auditKey(userID, entryID string) string { return "server/audit/" + userID + "/" + entryID }

func (a *API) handlePunch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	userID, _ := auth.UserIDFromContext(r.Context())

	var req punchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error(), nil)
		return
	}
	kind, fields := validatePunch(req)
	if len(fields) > 0 {
		writeError(w, r, http.StatusUnprocessableEntity, "validation failed", fields)
		return
	}

	now := a.now().UTC()
	date := shift.CivilDate(now, a.offset)

	a.punchMu.Lock()
	defer a.punchMu.Unlock()

	rec, err := a.loadDay(r, userID, date)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "storage error", nil)
		return
	}
	switch {
	case kind == attendance.In && rec.PunchInAt != nil:
		writeError(w, r, http.StatusConflict, "Already punched in today", nil)
		return
	case kind == attendance.Out && rec.PunchInAt == nil:
		writeError(w, r, http.StatusConflict, "Punch in before punching out", nil)
		return
	case kind == attendance.Out && rec.PunchOutAt != nil:
		writeError(w, r, http.StatusConflict, "Already punched out today", nil)
		return
	}
	if kind == attendance.In {
		rec.PunchInAt = &now
	} else {
		rec.PunchOutAt = &now
	}
	if err := a.saveDay(r, userID, rec); err != nil {
		writeError(w, r, http.StatusInternalServerError, "storage error", nil)
		return
	}

	skew := int64(req.Timestamp.Sub(now) / time.Second)
	_ = audit.LogEvent(r.Context(), "attendance.punch", map[string]any{
		"type":                kind,
		"date":                date,
		"device_skew_seconds": skew,
		"latitude":            *req.Latitude,
		"longitude":           *req.Longitude,
	})

	msg := "Punched in successfully"
	if kind == attendance.Out {
		msg = "Punched out successfully"
	}
	writeData(w, http.StatusOK, msg, punchResponse{Type: kind, Date: date, ServerTime: now, DeviceSkewSeconds: skew})
}

func validatePunch(req punchRequest) (attendance.Kind, []fieldError) {
	var fields []fieldError
	kind, err := attendance.ParseKind(req.Type)
	if err != nil {
		fields = append(fields, fieldError{Field: "type", Message: "must be in or out"})
	}
	if req.Timestamp.IsZero() {
		fields = append(fields, fieldError{Field: "timestamp", Message: "is required"})
	}
	switch {
	case req.Latitude == nil:
		fields = append(fields, fieldError{Field: "latitude", Message: "is required"})
	case math.Abs(*req.Latitude) > 90:
		fields = append(fields, fieldError{Field: "latitude", Message: "must be between -90 and 90"})
	}
	switch {
	case req.Longitude == nil:
		fields = append(fields, fieldError{Field: "longitude", Message: "is required"})
	case math.Abs(*req.Longitude) > 180:
		fields = append(fields, fieldError{Field: "longitude", Message: "must be between -180 and 180"})
	}
	if len(fields) == 0 {
		c := geo.Coordinate{Latitude: *req.Latitude, Longitude: *req.Longitude}
		if c.Validate() != nil {
			fields = append(fields, fieldError{Field: "latitude", Message: "invalid coordinate"})
		}
	}
	return kind, fields
}

func (a *API) handleToday(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	userID, _ := auth.UserIDFromContext(r.Context())
	date := shift.CivilDate(a.now(), a.offset)
	rec, err := a.loadDay(r, userID, date)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "storage error", nil)
		return
	}
	writeData(w, http.StatusOK, "", rec)
}

type auditRequest struct {
	Entries []ledger.Entry `json:"entries"`
}

// handleAudit stores uploaded ledger entries keyed by id, so re-uploading
// the same entry is harmless.
func (a *API) handleAudit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	userID, _ := auth.UserIDFromContext(r.Context())
	var req auditRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error(), nil)
		return
	}
	for i, e := range req.Entries {
		if e.ID == "" {
			writeError(w, r, http.StatusUnprocessableEntity, "validation failed", []fieldError{
				{Field: fmt.Sprintf("entries[%d].id", i), Message: "is required"},
			})
			return
		}
	}
	for _, e := range req.Entries {
		b, err := json.Marshal(e)
		if err != nil {
			writeError(w, r, http.StatusInternalServerError, "encode error", nil)
			return
		}
		if err := a.store.Set(r.Context(), auditKey(userID, e.ID), string(b)); err != nil {
			writeError(w, r, http.StatusInternalServerError, "storage error", nil)
			return
		}
	}
	_ = audit.LogEvent(r.Context(), "attendance.audit.uploaded", map[string]any{"count": len(req.Entries)})
	writeData(w, http.StatusOK, "", map[string]int{"accepted": len(req.Entries)})
}

func (a *API) loadDay(r *http.Request, userID, date string) (dayRecord, error) {
	rec := dayRecord{Date: date}
	raw, ok, err := a.store.Get(r.Context(), dayKey(userID, date))
	if err != nil || !ok {
		return rec, err
	}
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return dayRecord{}, err
	}
	return rec, nil
}

func (a *API) saveDay(r *http.Request, userID string, rec dayRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return a.store.Set(r.Context(), dayKey(userID, rec.Date), string(b))
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}
