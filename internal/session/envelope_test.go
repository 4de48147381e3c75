package session

import "testing"

func TestDecodeErrorPayloadPrecedence(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		body  string
		shape Shape
		msg   string
	}{
		{
			name:  "error list wins over message",
			body:  `{"message":"Validation failed","errors":[{"field":"latitude","message":"is required"},"timestamp is in the future"]}`,
			shape: FieldErrorList,
			msg:   "latitude: is required; timestamp is in the future",
		},
		{
			name:  "field map",
			body:  `{"message":"Validation failed","errors":{"type":["must be in or out"],"longitude":"is required"}}`,
			shape: FieldErrorMap,
			msg:   "longitude: is required; type: must be in or out",
		},
		{
			name:  "message",
			body:  `{"status":"error","statusCode":409,"message":"Already punched in today"}`,
			shape: SingleMessage,
			msg:   "Already punched in today",
		},
		{
			name:  "error before detail",
			body:  `{"detail":"d","error":"forbidden"}`,
			shape: SingleMessage,
			msg:   "forbidden",
		},
		{
			name:  "title last",
			body:  `{"title":"Bad Request"}`,
			shape: SingleMessage,
			msg:   "Bad Request",
		},
		{
			name:  "empty errors fall through",
			body:  `{"errors":[],"detail":"outside office"}`,
			shape: SingleMessage,
			msg:   "outside office",
		},
		{
			name:  "unknown object",
			body:  `{"foo":1}`,
			shape: Unknown,
			msg:   "request failed with status 422",
		},
		{
			name:  "not json",
			body:  `<html>bad gateway</html>`,
			shape: Unknown,
			msg:   "request failed with status 422",
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := DecodeErrorPayload(422, []byte(tc.body))
			if got.Shape != tc.shape {
				t.Fatalf("shape = %v, want %v", got.Shape, tc.shape)
			}
			if got.Message != tc.msg {
				t.Fatalf("message = %q, want %q", got.Message, tc.msg)
			}
		})
	}
}
