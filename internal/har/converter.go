package har

import (
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/torosent/scensim/internal/scenario"
)

// Role and dialog names used in generated scenarios.
const (
	RoleName   = "client"
	DialogName = "replay"
)

// minPause is the smallest recorded gap kept as a wait step.
const minPause = 10 * time.Millisecond

// Recording is a converted capture.
type Recording struct {
	// Address is the base URL for the endpoint the client role binds to.
	Address string
	// Requests is the number of replayed entries.
	Requests int
	// Definition is the scenario definition in YAML.
	Definition []byte
}

type document struct {
	Scenario    string            `yaml:"scenario"`
	Description string            `yaml:"description,omitempty"`
	Roles       []role            `yaml:"roles"`
	Dialogs     map[string]dialog `yaml:"dialogs"`
}

type role struct {
	Name   string `yaml:"name"`
	Dialog string `yaml:"dialog"`
}

type dialog struct {
	Schema string `yaml:"schema"`
	Steps  []step `yaml:"steps"`
}

type step struct {
	Send    *message     `yaml:"send,omitempty"`
	Expect  *expectation `yaml:"expect,omitempty"`
	Timeout string       `yaml:"timeout,omitempty"`
	Wait    string       `yaml:"wait,omitempty"`
}

type message struct {
	Name       string            `yaml:"name"`
	Attributes map[string]string `yaml:"attributes,omitempty"`
	Body       string            `yaml:"body,omitempty"`
}

type expectation struct {
	Name string `yaml:"name,omitempty"`
}

// Convert replays the entries selected by opts as one HTTP dialog: a send
// step per request followed by an expect step on the recorded status. All
// selected entries must target the same scheme and host.
func Convert(h *HAR, opts ConvertOptions) (*Recording, error) {
	if h == nil || h.Log == nil {
		return nil, fmt.Errorf("HAR is nil or has no log")
	}
	name := strings.TrimSpace(opts.Scenario)
	if name == "" {
		name = DefaultOptions().Scenario
	}

	var (
		address string
		steps   []step
		count   int
		prevEnd time.Time
	)
	for _, entry := range h.Log.Entries {
		if entry == nil || entry.Request == nil {
			continue
		}
		u, err := url.Parse(entry.Request.URL)
		if err != nil || u.Host == "" {
			continue
		}
		if !shouldInclude(entry.Request, u, opts) {
			continue
		}

		base := u.Scheme + "://" + u.Host
		if address == "" {
			address = base
		} else if base != address {
			return nil, fmt.Errorf("capture spans %s and %s; select one host", address, base)
		}

		if opts.KeepPauses {
			start, end, ok := entrySpan(entry)
			if ok && !prevEnd.IsZero() {
				if gap := start.Sub(prevEnd).Round(time.Millisecond); gap >= minPause {
					steps = append(steps, step{Wait: gap.String()})
				}
			}
			if ok {
				prevEnd = end
			}
		}

		steps = append(steps, step{Send: sendMessage(entry.Request, u, opts.IncludeHeaders)})
		expect := step{Expect: &expectation{Name: expectedStatus(entry.Response)}}
		if opts.StepTimeout > 0 {
			expect.Timeout = opts.StepTimeout.String()
		}
		steps = append(steps, expect)
		count++
	}
	if count == 0 {
		return nil, fmt.Errorf("no HAR entries left after filtering")
	}

	doc := document{
		Scenario:    name,
		Description: description(h.Log, count, address),
		Roles:       []role{{Name: RoleName, Dialog: DialogName}},
		Dialogs:     map[string]dialog{DialogName: {Schema: "http", Steps: steps}},
	}
	out, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode scenario: %w", err)
	}
	if _, err := scenario.Parse(out); err != nil {
		return nil, fmt.Errorf("generated scenario is invalid: %w", err)
	}
	return &Recording{Address: address, Requests: count, Definition: out}, nil
}

func shouldInclude(req *Request, u *url.URL, opts ConvertOptions) bool {
	if len(opts.IncludeHosts) > 0 && !slices.Contains(opts.IncludeHosts, u.Host) {
		return false
	}
	if slices.Contains(opts.ExcludeHosts, u.Host) {
		return false
	}
	if len(opts.IncludeMethods) > 0 && !slices.ContainsFunc(opts.IncludeMethods, func(m string) bool {
		return strings.EqualFold(m, req.Method)
	}) {
		return false
	}
	return !opts.ExcludeStatic || !isStaticAsset(u.Path)
}

func sendMessage(req *Request, u *url.URL, withHeaders bool) *message {
	msg := &message{
		Name:       strings.ToUpper(req.Method),
		Attributes: map[string]string{"path": u.RequestURI()},
	}
	if withHeaders {
		for name, value := range replayHeaders(req.Headers) {
			msg.Attributes["header."+name] = value
		}
	}
	if req.PostData != nil {
		msg.Body = req.PostData.Text
		if req.PostData.MimeType != "" && withHeaders {
			if _, ok := msg.Attributes["header.Content-Type"]; !ok {
				msg.Attributes["header.Content-Type"] = req.PostData.MimeType
			}
		}
	}
	return msg
}

// expectedStatus names the reply to wait for. Redirects are followed by the
// HTTP adaptor and unrecorded responses match any reply.
func expectedStatus(resp *Response) string {
	if resp == nil || resp.Status == 0 || (resp.Status >= 300 && resp.Status < 400) {
		return ""
	}
	return strconv.Itoa(resp.Status)
}

func entrySpan(entry *Entry) (time.Time, time.Time, bool) {
	start, err := time.Parse(time.RFC3339Nano, entry.StartedDateTime)
	if err != nil {
		return time.Time{}, time.Time{}, false
	}
	return start, start.Add(time.Duration(entry.Time * float64(time.Millisecond))), true
}

func description(log *Log, count int, address string) string {
	desc := fmt.Sprintf("Replays %d recorded requests against %s", count, address)
	if log.Creator != nil && log.Creator.Name != "" {
		desc += " (captured with " + log.Creator.Name + ")"
	}
	return desc
}

var staticExtensions = []string{
	".js", ".css", ".png", ".jpg", ".jpeg", ".gif", ".svg",
	".woff", ".woff2", ".ttf", ".eot", ".ico", ".map",
}

func isStaticAsset(path string) bool {
	lower := strings.ToLower(path)
	return slices.ContainsFunc(staticExtensions, func(ext string) bool {
		return strings.HasSuffix(lower, ext)
	})
}

// skippedHeaders are hop-by-hop or recomputed by the HTTP client.
var skippedHeaders = map[string]bool{
	"connection":          true,
	"keep-alive":          true,
	"proxy-authenticate":  true,
	"proxy-authorization": true,
	"te":                  true,
	"trailers":            true,
	"transfer-encoding":   true,
	"upgrade":             true,
	"host":                true,
	"content-length":      true,
	"accept-encoding":     true,
}

func replayHeaders(headers []*Header) map[string]string {
	out := make(map[string]string)
	for _, h := range headers {
		if h == nil || strings.HasPrefix(h.Name, ":") || skippedHeaders[strings.ToLower(h.Name)] {
			continue
		}
		out[h.Name] = h.Value
	}
	return out
}
