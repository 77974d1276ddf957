package metadata

import (
	"reflect"
	"testing"
)

func TestParseBody(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		wantResults []any
		wantMessage string
		isMessage   bool
	}{
		{
			name:        "result set",
			body:        `{"results": [{"table": "users"}, "x"]}`,
			wantResults: []any{map[string]any{"table": "users"}, "x"},
		},
		{
			name:        "empty results",
			body:        `{"results": []}`,
			wantResults: []any{},
		},
		{
			name:        "missing results key",
			body:        `{"count": 3}`,
			wantResults: []any{},
		},
		{
			name:        "lowercase message",
			body:        `{"message": "not found"}`,
			isMessage:   true,
			wantMessage: "not found",
		},
		{
			name:        "capitalized message",
			body:        `{"Message": "denied"}`,
			isMessage:   true,
			wantMessage: "denied",
		},
		{
			name:        "uppercase message",
			body:        `{"MESSAGE": "rate limited"}`,
			isMessage:   true,
			wantMessage: "rate limited",
		},
		{
			name:        "non-string message value",
			body:        `{"message": 503}`,
			isMessage:   true,
			wantMessage: "503",
		},
		{
			name:        "unparseable body",
			body:        `<html>bad gateway</html>`,
			wantResults: []any{},
		},
		{
			name:        "bare list body",
			body:        `["a", "b"]`,
			wantResults: []any{"a", "b"},
		},
		{
			name:        "scalar body",
			body:        `42`,
			wantResults: []any{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, message := ParseBody([]byte(tt.body))
			if tt.isMessage {
				if message == nil {
					t.Fatalf("expected a message, got result %+v", result)
				}
				if message.Message != tt.wantMessage {
					t.Errorf("message = %q, want %q", message.Message, tt.wantMessage)
				}
				return
			}
			if result == nil {
				t.Fatalf("expected a result, got message %+v", message)
			}
			if result.Results == nil {
				t.Fatal("results slice is nil, want non-nil")
			}
			if !reflect.DeepEqual(result.Results, tt.wantResults) {
				t.Errorf("results = %v, want %v", result.Results, tt.wantResults)
			}
		})
	}
}
