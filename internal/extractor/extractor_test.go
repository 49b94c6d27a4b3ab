package extractor

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestExtractAll(t *testing.T) {
	body := []byte(`{"user": {"id": 999, "email": "test@example.com"}, "items": [{"id": 1}, {"id": 2}], "message": "User ID: 111"}`)
	attrs := map[string]string{"session": "s-1"}

	tests := []struct {
		name      string
		extractor Extractor
		want      string
	}{
		{"json bare path", Extractor{Variable: "v", JSONPath: "user.id"}, "999"},
		{"json dollar prefix", Extractor{Variable: "v", JSONPath: "$.user.email"}, "test@example.com"},
		{"json array index", Extractor{Variable: "v", JSONPath: "items.1.id"}, "2"},
		{"json missing", Extractor{Variable: "v", JSONPath: "user.phone"}, ""},
		{"regex capture group", Extractor{Variable: "v", Regex: `User ID: (\d+)`}, "111"},
		{"regex full match", Extractor{Variable: "v", Regex: `\d{3}`}, "999"},
		{"regex no match", Extractor{Variable: "v", Regex: `nothing-(\w+)`}, ""},
		{"attribute", Extractor{Variable: "v", Attribute: "session"}, "s-1"},
		{"attribute missing", Extractor{Variable: "v", Attribute: "other"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractAll(body, attrs, []Extractor{tt.extractor}, nil)
			if got["v"] != tt.want {
				t.Errorf("ExtractAll() = %q, want %q", got["v"], tt.want)
			}
		})
	}
}

func TestExtractAllLogsMisses(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	ExtractAll([]byte(`no numbers here`), nil, []Extractor{{Variable: "n", Regex: `\d+`}}, logger)

	if !strings.Contains(buf.String(), "regex pattern not found") {
		t.Errorf("expected a log line for the regex miss, got %q", buf.String())
	}
}

func TestExtractAllJSONOnNonJSONBody(t *testing.T) {
	got := ExtractAll([]byte(`plain text`), nil, []Extractor{{Variable: "v", JSONPath: "$.a"}}, nil)
	if got["v"] != "" {
		t.Errorf("ExtractAll() = %q, want empty", got["v"])
	}
}

func TestExtractorValidate(t *testing.T) {
	tests := []struct {
		name    string
		e       Extractor
		wantErr bool
	}{
		{"ok json", Extractor{Variable: "a", JSONPath: "$.a"}, false},
		{"ok regex", Extractor{Variable: "a", Regex: `(\d+)`}, false},
		{"no variable", Extractor{JSONPath: "$.a"}, true},
		{"no source", Extractor{Variable: "a"}, true},
		{"two sources", Extractor{Variable: "a", JSONPath: "$.a", Regex: "a"}, true},
		{"bad regex", Extractor{Variable: "a", Regex: `(`}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.e.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
