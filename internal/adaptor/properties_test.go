package adaptor

import (
	"testing"
	"time"
)

func TestParseProperties(t *testing.T) {
	text := `
# comment
! also comment
address = localhost:9000
reply: pong
long=first \
  second
empty=
`
	props, err := ParseProperties(text)
	if err != nil {
		t.Fatalf("ParseProperties: %v", err)
	}
	want := map[string]string{
		"address": "localhost:9000",
		"reply":   "pong",
		"long":    "first second",
		"empty":   "",
	}
	if len(props) != len(want) {
		t.Fatalf("got %d properties (%v), want %d", len(props), props, len(want))
	}
	for k, v := range want {
		if props[k] != v {
			t.Errorf("props[%q] = %q, want %q", k, props[k], v)
		}
	}
}

func TestParsePropertiesInvalidLine(t *testing.T) {
	if _, err := ParseProperties("no separator here"); err == nil {
		t.Fatal("expected error for line without separator")
	}
}

func TestPropertiesAccessors(t *testing.T) {
	p := Properties{
		"delay":    "250",
		"timeout":  "2s",
		"reject":   "true",
		"max_rate": "12.5",
		"size":     "4",
		"bad":      "x",
		"ws.a":     "1",
	}
	if d, _ := p.Duration("delay", 0); d != 250*time.Millisecond {
		t.Errorf("delay = %s", d)
	}
	if d, _ := p.Duration("timeout", 0); d != 2*time.Second {
		t.Errorf("timeout = %s", d)
	}
	if d, _ := p.Duration("missing", time.Second); d != time.Second {
		t.Errorf("default duration = %s", d)
	}
	if b, _ := p.Bool("reject", false); !b {
		t.Error("reject should be true")
	}
	if f, _ := p.Float("max_rate", 0); f != 12.5 {
		t.Errorf("max_rate = %v", f)
	}
	if n, _ := p.Int("size", 0); n != 4 {
		t.Errorf("size = %d", n)
	}
	if _, err := p.Int("bad", 0); err == nil {
		t.Error("expected int parse error")
	}
	if _, err := p.Duration("bad", 0); err == nil {
		t.Error("expected duration parse error")
	}
	if got := p.String("missing", "def"); got != "def" {
		t.Errorf("String default = %q", got)
	}
	if got := p.WithPrefix("ws."); len(got) != 1 || got["a"] != "1" {
		t.Errorf("WithPrefix = %v", got)
	}
}
