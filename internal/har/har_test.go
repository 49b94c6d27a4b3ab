package har

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/torosent/scensim/internal/scenario"
)

const sampleHAR = `{
  "log": {
    "version": "1.2",
    "creator": {"name": "DevTools", "version": "1"},
    "entries": [
      {
        "startedDateTime": "2026-01-02T10:00:00.000Z",
        "time": 100,
        "request": {
          "method": "GET",
          "url": "https://shop.example.com/api/items?page=2",
          "headers": [
            {"name": "Accept", "value": "application/json"},
            {"name": "Connection", "value": "keep-alive"},
            {"name": ":authority", "value": "shop.example.com"}
          ]
        },
        "response": {"status": 200, "content": {"mimeType": "application/json"}}
      },
      {
        "startedDateTime": "2026-01-02T10:00:00.050Z",
        "time": 20,
        "request": {"method": "GET", "url": "https://shop.example.com/static/app.js"},
        "response": {"status": 200}
      },
      {
        "startedDateTime": "2026-01-02T10:00:01.600Z",
        "time": 40,
        "request": {
          "method": "post",
          "url": "https://shop.example.com/api/cart",
          "postData": {"mimeType": "application/json", "text": "{\"item\":7}"}
        },
        "response": {"status": 201}
      },
      {
        "startedDateTime": "2026-01-02T10:00:02.000Z",
        "time": 5,
        "request": {"method": "GET", "url": "https://shop.example.com/checkout"},
        "response": {"status": 302}
      },
      {
        "startedDateTime": "2026-01-02T10:00:03.000Z",
        "time": 5,
        "request": {"method": "GET", "url": "https://cdn.example.net/banner"},
        "response": {"status": 200}
      }
    ]
  }
}`

func parseSample(t *testing.T) *HAR {
	t.Helper()
	h, err := Parse(strings.NewReader(sampleHAR))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	return h
}

func TestParseErrors(t *testing.T) {
	for name, input := range map[string]string{
		"empty":    "",
		"not json": "{",
		"no log":   `{"other": 1}`,
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := Parse(strings.NewReader(input)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestParseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.har")
	if err := os.WriteFile(path, []byte(sampleHAR), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	h, err := ParseFile(path)
	if err != nil {
		t.Fatalf("ParseFile() error = %v", err)
	}
	if h.Log.Version != "1.2" || len(h.Log.Entries) != 5 || h.Log.Creator.Name != "DevTools" {
		t.Fatalf("log = %+v", h.Log)
	}
	if _, err := ParseFile(filepath.Join(t.TempDir(), "missing.har")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestConvertRejectsMixedHosts(t *testing.T) {
	_, err := Convert(parseSample(t), DefaultOptions())
	if err == nil || !strings.Contains(err.Error(), "cdn.example.net") {
		t.Fatalf("Convert() error = %v, want mixed host error", err)
	}
}

func TestConvertBuildsLoadableScenario(t *testing.T) {
	opts := DefaultOptions()
	opts.Scenario = "shop"
	opts.IncludeHosts = []string{"shop.example.com"}
	opts.StepTimeout = 2 * time.Second

	rec, err := Convert(parseSample(t), opts)
	if err != nil {
		t.Fatalf("Convert() error = %v", err)
	}
	if rec.Address != "https://shop.example.com" || rec.Requests != 3 {
		t.Fatalf("recording = %q, %d requests", rec.Address, rec.Requests)
	}

	sc, err := scenario.Parse(rec.Definition)
	if err != nil {
		t.Fatalf("scenario.Parse() error = %v\n%s", err, rec.Definition)
	}
	if sc.Name != "shop" || len(sc.Roles) != 1 || sc.Roles[0].Name != RoleName {
		t.Fatalf("scenario = %+v", sc)
	}
	d := sc.Dialogs[DialogName]
	if d == nil || d.Schema != "http" || len(d.Steps) != 6 {
		t.Fatalf("dialog = %+v", d)
	}

	first := d.Steps[0]
	if first.Kind != scenario.StepSend || first.Send.Name != "GET" || first.Send.Attributes["path"] != "/api/items?page=2" {
		t.Fatalf("first step = %+v", first)
	}
	if first.Send.Attributes["header.Accept"] != "application/json" {
		t.Errorf("recorded header missing: %v", first.Send.Attributes)
	}
	if _, ok := first.Send.Attributes["header.Connection"]; ok {
		t.Error("hop-by-hop header copied")
	}
	if _, ok := first.Send.Attributes["header.:authority"]; ok {
		t.Error("pseudo header copied")
	}
	if d.Steps[1].Expect.Name != "200" || d.Steps[1].Timeout != 2*time.Second {
		t.Errorf("first expect = %+v", d.Steps[1])
	}

	post := d.Steps[2]
	if post.Send.Name != "POST" || post.Send.Body != `{"item":7}` || post.Send.Attributes["header.Content-Type"] != "application/json" {
		t.Errorf("post step = %+v", post.Send)
	}
	if d.Steps[3].Expect.Name != "201" {
		t.Errorf("post expect = %+v", d.Steps[3].Expect)
	}
	if d.Steps[5].Expect.Name != "" {
		t.Errorf("redirect expect name = %q, want any", d.Steps[5].Expect.Name)
	}
}

func TestConvertKeepsPauses(t *testing.T) {
	opts := DefaultOptions()
	opts.ExcludeHosts = []string{"cdn.example.net"}
	opts.KeepPauses = true
	opts.IncludeHeaders = false

	rec, err := Convert(parseSample(t), opts)
	if err != nil {
		t.Fatalf("Convert() error = %v", err)
	}
	sc, err := scenario.Parse(rec.Definition)
	if err != nil {
		t.Fatalf("scenario.Parse() error = %v", err)
	}
	steps := sc.Dialogs[DialogName].Steps
	// GET items ends at .100, POST cart starts at 1.600: 1.5s pause.
	if steps[2].Kind != scenario.StepWait || steps[2].Wait != 1500*time.Millisecond {
		t.Fatalf("step 3 = %+v, want 1.5s wait", steps[2])
	}
	if len(steps[0].Send.Attributes) != 1 {
		t.Errorf("headers copied with IncludeHeaders=false: %v", steps[0].Send.Attributes)
	}
}

func TestConvertFilters(t *testing.T) {
	opts := DefaultOptions()
	opts.IncludeHosts = []string{"shop.example.com"}
	opts.IncludeMethods = []string{"POST"}
	rec, err := Convert(parseSample(t), opts)
	if err != nil {
		t.Fatalf("Convert() error = %v", err)
	}
	if rec.Requests != 1 {
		t.Fatalf("requests = %d, want 1", rec.Requests)
	}

	opts.ExcludeStatic = false
	opts.IncludeMethods = nil
	rec, err = Convert(parseSample(t), opts)
	if err != nil {
		t.Fatalf("Convert() error = %v", err)
	}
	if rec.Requests != 4 {
		t.Fatalf("requests with static assets = %d, want 4", rec.Requests)
	}

	opts.IncludeMethods = []string{"DELETE"}
	if _, err := Convert(parseSample(t), opts); err == nil {
		t.Fatal("expected error when every entry is filtered out")
	}
	if _, err := Convert(nil, opts); err == nil {
		t.Fatal("expected error for nil HAR")
	}
}
