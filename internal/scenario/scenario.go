// Package scenario parses scenario definitions and keeps the binding store:
// which scenarios are loaded, which endpoint and dialog serves each role,
// which data sets feed each configuration, and how the next scenario to run
// is selected.
package scenario

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/torosent/scensim/internal/extractor"
)

// DefaultConfig is the configuration name used when none is given.
const DefaultConfig = "default"

// DefaultStepTimeout bounds an expect step that declares no timeout.
const DefaultStepTimeout = 5 * time.Second

// StepKind identifies what a dialog step does.
type StepKind string

const (
	StepSend   StepKind = "send"
	StepExpect StepKind = "expect"
	StepWait   StepKind = "wait"
)

// MessageTemplate is an outbound message with {{placeholders}}.
type MessageTemplate struct {
	Name       string            `yaml:"name" json:"name,omitempty"`
	Body       string            `yaml:"body" json:"body,omitempty"`
	Attributes map[string]string `yaml:"attributes" json:"attributes,omitempty"`
}

// Step is one step of a dialog.
type Step struct {
	Kind StepKind

	// Send is set for send steps.
	Send MessageTemplate

	// Expect, Fallback, Extract and Timeout are set for expect steps.
	Expect   extractor.Pattern
	Fallback []extractor.Pattern
	Extract  []extractor.Extractor
	Timeout  time.Duration

	// Wait is set for wait steps.
	Wait time.Duration
}

// String renders a one-line description of the step.
func (s Step) String() string {
	switch s.Kind {
	case StepSend:
		name := s.Send.Name
		if name == "" {
			name = "message"
		}
		return "send " + name
	case StepExpect:
		desc := fmt.Sprintf("expect %s within %s", s.Expect, s.Timeout)
		if len(s.Fallback) > 0 {
			desc += fmt.Sprintf(" (%d fallback)", len(s.Fallback))
		}
		return desc
	case StepWait:
		return "wait " + s.Wait.String()
	default:
		return string(s.Kind)
	}
}

// Dialog is the ordered message exchange one role performs.
type Dialog struct {
	Name   string
	Schema string
	Steps  []Step
}

// Role is a participant in a scenario and its binding.
type Role struct {
	Name     string
	Schema   string
	Dialog   string
	Endpoint string
}

// Scenario is a loaded scenario. Values are immutable once stored; rebinding
// a role replaces the stored scenario with an updated copy.
type Scenario struct {
	Name        string
	Description string
	Config      string
	Initiating  bool
	Weight      float64
	Roles       []Role
	Dialogs     map[string]*Dialog
}

// Role returns the named role.
func (s *Scenario) Role(name string) (Role, bool) {
	for _, r := range s.Roles {
		if r.Name == name {
			return r, true
		}
	}
	return Role{}, false
}

// DialogFor returns the dialog bound to role.
func (s *Scenario) DialogFor(role Role) (*Dialog, bool) {
	d, ok := s.Dialogs[role.Dialog]
	return d, ok
}

func (s *Scenario) clone() *Scenario {
	out := *s
	out.Roles = slices.Clone(s.Roles)
	out.Dialogs = maps.Clone(s.Dialogs)
	return &out
}

// RoleBinding is the current binding of one role.
type RoleBinding struct {
	Role     string `json:"role"`
	Schema   string `json:"schema"`
	Dialog   string `json:"dialog"`
	Endpoint string `json:"endpoint"`
}

// BindingsDescription summarises a loaded scenario's bindings.
type BindingsDescription struct {
	Scenario   string        `json:"scenario"`
	Config     string        `json:"config"`
	Initiating bool          `json:"initiating"`
	Weight     float64       `json:"weight"`
	Roles      []RoleBinding `json:"roles"`
	Unbound    []string      `json:"unbound,omitempty"`
	Tables     []string      `json:"tables,omitempty"`
}

// String renders the description in a compact human form.
func (b BindingsDescription) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s (config %s)", b.Scenario, b.Config)
	for _, r := range b.Roles {
		ep := r.Endpoint
		if ep == "" {
			ep = "<unbound>"
		}
		fmt.Fprintf(&sb, "; %s: %s/%s -> %s", r.Role, r.Dialog, r.Schema, ep)
	}
	return sb.String()
}

// DialogDescription describes one dialog for Describe.
type DialogDescription struct {
	Name   string   `json:"name"`
	Schema string   `json:"schema"`
	Steps  []string `json:"steps"`
}

// Description is the full description of a scenario.
type Description struct {
	Name        string              `json:"name"`
	Description string              `json:"description,omitempty"`
	Config      string              `json:"config"`
	Initiating  bool                `json:"initiating"`
	Weight      float64             `json:"weight"`
	Roles       []RoleBinding       `json:"roles"`
	Dialogs     []DialogDescription `json:"dialogs"`
	InFlight    int64               `json:"in_flight"`
}

func describeBindings(s *Scenario, tables []string) BindingsDescription {
	desc := BindingsDescription{
		Scenario:   s.Name,
		Config:     s.Config,
		Initiating: s.Initiating,
		Weight:     s.Weight,
		Roles:      make([]RoleBinding, 0, len(s.Roles)),
		Tables:     tables,
	}
	for _, r := range s.Roles {
		desc.Roles = append(desc.Roles, RoleBinding{Role: r.Name, Schema: r.Schema, Dialog: r.Dialog, Endpoint: r.Endpoint})
		if r.Endpoint == "" {
			desc.Unbound = append(desc.Unbound, r.Name)
		}
	}
	return desc
}

func describe(s *Scenario, inFlight int64) Description {
	b := describeBindings(s, nil)
	desc := Description{
		Name:        s.Name,
		Description: s.Description,
		Config:      s.Config,
		Initiating:  s.Initiating,
		Weight:      s.Weight,
		Roles:       b.Roles,
		InFlight:    inFlight,
	}
	for _, name := range slices.Sorted(maps.Keys(s.Dialogs)) {
		d := s.Dialogs[name]
		dd := DialogDescription{Name: d.Name, Schema: d.Schema}
		for _, st := range d.Steps {
			dd.Steps = append(dd.Steps, st.String())
		}
		desc.Dialogs = append(desc.Dialogs, dd)
	}
	return desc
}
