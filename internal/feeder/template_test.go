package feeder

import (
	"reflect"
	"testing"
)

func TestSubstitutePlaceholders(t *testing.T) {
	record := Record{
		"users.name": "Alice",
		"users.id":   "42",
		"token":      "{{users.id}}",
	}
	tests := []struct {
		name     string
		template string
		want     string
	}{
		{"single", "hello {{users.name}}", "hello Alice"},
		{"repeated", "{{users.id}}-{{users.id}}", "42-42"},
		{"spaces inside braces", "id={{ users.id }}", "id=42"},
		{"unknown left intact", "{{users.email}}", "{{users.email}}"},
		{"no re-expansion", "{{token}}", "{{users.id}}"},
		{"no placeholders", "plain", "plain"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SubstitutePlaceholders(tt.template, record); got != tt.want {
				t.Errorf("SubstitutePlaceholders() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSubstitutePlaceholdersEmptyRecord(t *testing.T) {
	if got := SubstitutePlaceholders("{{a}}", nil); got != "{{a}}" {
		t.Errorf("SubstitutePlaceholders() = %q", got)
	}
}

func TestPlaceholders(t *testing.T) {
	got := Placeholders("{{a.b}} {{c}} {{a.b}} {{ d }}")
	want := []string{"a.b", "c", "d"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Placeholders() = %v, want %v", got, want)
	}
}
