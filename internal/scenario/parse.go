package scenario

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/torosent/scensim/internal/extractor"
	"github.com/torosent/scensim/internal/simerr"
)

type rawDocument struct {
	Scenario    string               `yaml:"scenario"`
	Description string               `yaml:"description"`
	Initiating  *bool                `yaml:"initiating"`
	Weight      *float64             `yaml:"weight"`
	Roles       []rawRole            `yaml:"roles"`
	Dialogs     map[string]rawDialog `yaml:"dialogs"`
}

type rawRole struct {
	Name     string `yaml:"name"`
	Schema   string `yaml:"schema"`
	Dialog   string `yaml:"dialog"`
	Endpoint string `yaml:"endpoint"`
}

type rawDialog struct {
	Schema string    `yaml:"schema"`
	Steps  []rawStep `yaml:"steps"`
}

type rawStep struct {
	Send     *MessageTemplate      `yaml:"send"`
	Expect   *extractor.Pattern    `yaml:"expect"`
	Fallback []extractor.Pattern   `yaml:"fallback"`
	Extract  []extractor.Extractor `yaml:"extract"`
	Timeout  string                `yaml:"timeout"`
	Wait     string                `yaml:"wait"`
}

// Parse reads a scenario definition. It reports syntax and structural
// problems as recognition errors and semantic problems that can be judged
// without the binding store (regexes, weights, role/dialog references) as
// validation errors.
func Parse(source []byte) (*Scenario, error) {
	if len(bytes.TrimSpace(source)) == 0 {
		return nil, simerr.Recognition("scenario definition is empty")
	}

	dec := yaml.NewDecoder(bytes.NewReader(source))
	dec.KnownFields(true)

	var doc rawDocument
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, simerr.Recognition("scenario definition is empty")
		}
		return nil, simerr.Recognition("parse scenario: %w", err)
	}

	name := strings.TrimSpace(doc.Scenario)
	if name == "" {
		return nil, simerr.Recognition("scenario name is required")
	}
	if len(doc.Roles) == 0 {
		return nil, simerr.Recognition("scenario %s declares no roles", name)
	}
	if len(doc.Dialogs) == 0 {
		return nil, simerr.Recognition("scenario %s declares no dialogs", name)
	}

	sc := &Scenario{
		Name:        name,
		Description: doc.Description,
		Initiating:  true,
		Weight:      1,
		Dialogs:     make(map[string]*Dialog, len(doc.Dialogs)),
	}
	if doc.Initiating != nil {
		sc.Initiating = *doc.Initiating
	}
	if doc.Weight != nil {
		if *doc.Weight < 0 {
			return nil, simerr.Validation("scenario %s: weight must be >= 0, got %g", name, *doc.Weight)
		}
		sc.Weight = *doc.Weight
	}

	for dialogName, raw := range doc.Dialogs {
		d, err := parseDialog(dialogName, raw)
		if err != nil {
			return nil, fmt.Errorf("scenario %s: %w", name, err)
		}
		sc.Dialogs[dialogName] = d
	}

	seen := make(map[string]struct{}, len(doc.Roles))
	for i, raw := range doc.Roles {
		roleName := strings.TrimSpace(raw.Name)
		if roleName == "" {
			return nil, simerr.Recognition("scenario %s: role %d has no name", name, i+1)
		}
		if _, dup := seen[roleName]; dup {
			return nil, simerr.Validation("scenario %s: duplicate role %q", name, roleName)
		}
		seen[roleName] = struct{}{}

		d, ok := sc.Dialogs[raw.Dialog]
		if !ok {
			return nil, simerr.Validation("scenario %s: role %s references unknown dialog %q", name, roleName, raw.Dialog)
		}
		schema := strings.TrimSpace(raw.Schema)
		if schema == "" {
			schema = d.Schema
		}
		if d.Schema != "" && !strings.EqualFold(schema, d.Schema) {
			return nil, simerr.Validation("scenario %s: role %s schema %q differs from dialog %s schema %q", name, roleName, schema, d.Name, d.Schema)
		}
		sc.Roles = append(sc.Roles, Role{
			Name:     roleName,
			Schema:   schema,
			Dialog:   raw.Dialog,
			Endpoint: strings.TrimSpace(raw.Endpoint),
		})
	}

	return sc, nil
}

func parseDialog(name string, raw rawDialog) (*Dialog, error) {
	if len(raw.Steps) == 0 {
		return nil, simerr.Recognition("dialog %s has no steps", name)
	}
	d := &Dialog{Name: name, Schema: strings.TrimSpace(raw.Schema)}
	for i, rs := range raw.Steps {
		step, err := parseStep(rs)
		if err != nil {
			return nil, fmt.Errorf("dialog %s step %d: %w", name, i+1, err)
		}
		d.Steps = append(d.Steps, step)
	}
	return d, nil
}

func parseStep(rs rawStep) (Step, error) {
	kinds := 0
	if rs.Send != nil {
		kinds++
	}
	if rs.Expect != nil {
		kinds++
	}
	if rs.Wait != "" {
		kinds++
	}
	if kinds != 1 {
		return Step{}, simerr.Recognition("a step must be exactly one of send, expect, wait")
	}

	switch {
	case rs.Send != nil:
		if len(rs.Fallback) > 0 || len(rs.Extract) > 0 || rs.Timeout != "" {
			return Step{}, simerr.Recognition("fallback, extract and timeout only apply to expect steps")
		}
		return Step{Kind: StepSend, Send: *rs.Send}, nil

	case rs.Wait != "":
		if len(rs.Fallback) > 0 || len(rs.Extract) > 0 || rs.Timeout != "" {
			return Step{}, simerr.Recognition("fallback, extract and timeout only apply to expect steps")
		}
		d, err := parseDuration(rs.Wait)
		if err != nil {
			return Step{}, simerr.Validation("wait: %w", err)
		}
		return Step{Kind: StepWait, Wait: d}, nil

	default:
		step := Step{
			Kind:     StepExpect,
			Expect:   *rs.Expect,
			Fallback: rs.Fallback,
			Extract:  rs.Extract,
			Timeout:  DefaultStepTimeout,
		}
		if rs.Timeout != "" {
			d, err := parseDuration(rs.Timeout)
			if err != nil {
				return Step{}, simerr.Validation("timeout: %w", err)
			}
			if d <= 0 {
				return Step{}, simerr.Validation("timeout must be positive")
			}
			step.Timeout = d
		}
		if err := step.Expect.Validate(); err != nil {
			return Step{}, simerr.Validation("expect: %w", err)
		}
		for _, fb := range step.Fallback {
			if err := fb.Validate(); err != nil {
				return Step{}, simerr.Validation("fallback: %w", err)
			}
		}
		for _, ex := range step.Extract {
			if err := ex.Validate(); err != nil {
				return Step{}, simerr.Validation("extract: %w", err)
			}
		}
		return step, nil
	}
}

// parseDuration accepts Go durations; bare integers are milliseconds.
func parseDuration(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		if ms < 0 {
			return 0, fmt.Errorf("duration must be >= 0, got %s", v)
		}
		return time.Duration(ms) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("duration must be >= 0, got %s", v)
	}
	return d, nil
}
