package session

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Envelope is the response wrapper every attendance endpoint uses.
type Envelope struct {
	Status     any             `json:"status,omitempty"`
	StatusCode int             `json:"statusCode,omitempty"`
	Message    string          `json:"message,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
	Errors     json.RawMessage `json:"errors,omitempty"`
}

// Shape tags which error layout a payload used.
type Shape int

const (
	Unknown Shape = iota
	FieldErrorList
	FieldErrorMap
	SingleMessage
)

func (s Shape) String() string {
	switch s {
	case FieldErrorList:
		return "field_error_list"
	case FieldErrorMap:
		return "field_error_map"
	case SingleMessage:
		return "single_message"
	}
	return "unknown"
}

type FieldError struct {
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// ErrorPayload is the decoded body of a rejected request.
type ErrorPayload struct {
	Shape   Shape
	Message string
	Fields  []FieldError
}

var singularKeys = []string{"message", "error", "detail", "title"}

// DecodeErrorPayload extracts a human readable message from a non-2xx
// body. Layouts are tried in a fixed order: an "errors" list, an "errors"
// map keyed by field, then the first non-empty of message, error, detail
// and title. Anything else yields "request failed with status N".
func DecodeErrorPayload(status int, body []byte) ErrorPayload {
	fallback := ErrorPayload{Shape: Unknown, Message: fmt.Sprintf("request failed with status %d", status)}

	var top map[string]json.RawMessage
	if err := json.Unmarshal(body, &top); err != nil {
		return fallback
	}

	if raw, ok := top["errors"]; ok {
		if fields, ok := decodeErrorList(raw); ok {
			return ErrorPayload{Shape: FieldErrorList, Message: joinFields(fields), Fields: fields}
		}
		if fields, ok := decodeErrorMap(raw); ok {
			return ErrorPayload{Shape: FieldErrorMap, Message: joinFields(fields), Fields: fields}
		}
	}

	for _, k := range singularKeys {
		raw, ok := top[k]
		if !ok {
			continue
		}
		if msg := messageOf(raw); msg != "" {
			return ErrorPayload{Shape: SingleMessage, Message: msg}
		}
	}
	return fallback
}

// decodeErrorList accepts [{"field":"x","message":"y"}] and ["y"].
func decodeErrorList(raw json.RawMessage) ([]FieldError, bool) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil || len(items) == 0 {
		return nil, false
	}
	var out []FieldError
	for _, item := range items {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			if s != "" {
				out = append(out, FieldError{Message: s})
			}
			continue
		}
		var obj struct {
			Field   string `json:"field"`
			Path    string `json:"path"`
			Message string `json:"message"`
			Msg     string `json:"msg"`
		}
		if err := json.Unmarshal(item, &obj); err != nil {
			continue
		}
		fe := FieldError{Field: firstNonEmpty(obj.Field, obj.Path), Message: firstNonEmpty(obj.Message, obj.Msg)}
		if fe.Message != "" {
			out = append(out, fe)
		}
	}
	return out, len(out) > 0
}

// decodeErrorMap accepts {"field":"msg"} and {"field":["msg", ...]}.
func decodeErrorMap(raw json.RawMessage) ([]FieldError, bool) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil || len(m) == 0 {
		return nil, false
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []FieldError
	for _, k := range keys {
		if msg := messageOf(m[k]); msg != "" {
			out = append(out, FieldError{Field: k, Message: msg})
		}
	}
	return out, len(out) > 0
}

// messageOf reads a string or the first string of a list.
func messageOf(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		for _, v := range list {
			if v = strings.TrimSpace(v); v != "" {
				return v
			}
		}
	}
	return ""
}

func joinFields(fields []FieldError) string {
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		if f.Field != "" {
			parts = append(parts, f.Field+": "+f.Message)
		} else {
			parts = append(parts, f.Message)
		}
	}
	return strings.Join(parts, "; ")
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
