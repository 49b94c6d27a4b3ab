package remote

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/torosent/scensim/internal/dialog"
	"github.com/torosent/scensim/internal/metrics"
	"github.com/torosent/scensim/internal/runner"
	"github.com/torosent/scensim/internal/simerr"
	"github.com/torosent/scensim/internal/simulator"
)

// Prefix is prepended to every operation name.
const Prefix = "ScenSim"

// Param declares one argument of an operation.
type Param struct {
	Name     string `json:"name"`
	Optional bool   `json:"optional,omitempty"`
}

// OperationInfo describes an operation for discovery.
type OperationInfo struct {
	Name string  `json:"name"`
	Args []Param `json:"args"`
	Doc  string  `json:"doc,omitempty"`
}

type handler func(ctx context.Context, args Args) (any, error)

type operation struct {
	info OperationInfo
	call handler
}

// Table maps operation names to facade calls.
type Table struct {
	facade simulator.Facade
	ops    map[string]operation

	quitOnce sync.Once
	quit     chan struct{}
}

// MessageRecord is one message of a remotely run session.
type MessageRecord struct {
	Role       string            `json:"role"`
	Step       int               `json:"step"`
	Direction  dialog.Direction  `json:"direction"`
	Name       string            `json:"name"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Body       string            `json:"body,omitempty"`
	Fallback   bool              `json:"fallback,omitempty"`
}

// SessionReport is the result of RunSession.
type SessionReport struct {
	runner.SessionResult
	DurationMs float64         `json:"duration_ms"`
	Messages   []MessageRecord `json:"messages,omitempty"`
}

// StatsReport is the result of ResetSessionAndDialogStats.
type StatsReport struct {
	Sessions metrics.SessionStatusSnapshot `json:"sessions"`
	Dialogs  metrics.DialogStatsSnapshot   `json:"dialogs"`
}

func req(name string) Param { return Param{Name: name} }
func opt(name string) Param { return Param{Name: name, Optional: true} }

// NewTable builds the operation table for f.
func NewTable(f simulator.Facade) *Table {
	t := &Table{facade: f, ops: make(map[string]operation), quit: make(chan struct{})}

	t.add("SetEndpointAddress", "Rebind the transport address of an endpoint.",
		[]Param{req("endpoint"), req("address")},
		func(_ context.Context, a Args) (any, error) {
			endpoint, err := a.String("endpoint")
			if err != nil {
				return nil, err
			}
			address, err := a.String("address")
			if err != nil {
				return nil, err
			}
			return nil, f.SetEndpointAddress(endpoint, address)
		})
	t.add("GetEndpointNames", "List endpoint names.", nil,
		func(context.Context, Args) (any, error) { return f.EndpointNames(), nil })
	t.add("GetSchemaNames", "List known schemas.", nil,
		func(context.Context, Args) (any, error) { return f.SchemaNames(), nil })
	t.add("GetSchemaInfos", "Describe known schemas.", nil,
		func(context.Context, Args) (any, error) { return f.SchemaInfos(), nil })
	t.add("GetProtocolAdaptorTypes", "List protocol adaptor types.", nil,
		func(context.Context, Args) (any, error) { return f.AdaptorTypes(), nil })
	t.add("GetProtocolAdaptorTypeInfos", "Describe protocol adaptor types.", nil,
		func(context.Context, Args) (any, error) { return f.AdaptorTypeInfos(), nil })
	t.add("GetProtocolAdaptorTypeForSchema", "Name the adaptor type serving a schema.",
		[]Param{req("schema")},
		func(_ context.Context, a Args) (any, error) {
			schema, err := a.String("schema")
			if err != nil {
				return nil, err
			}
			return f.AdaptorTypeForSchema(schema)
		})
	t.add("CreateLocalEndpoint", "Create an endpoint; properties are an object or key=value lines.",
		[]Param{req("name"), req("adaptor_type"), opt("schemas"), opt("properties")},
		func(_ context.Context, a Args) (any, error) {
			name, adaptorType, schemas, props, err := endpointArgs(a)
			if err != nil {
				return nil, err
			}
			return f.CreateLocalEndpoint(name, adaptorType, schemas, props)
		})
	t.add("CreateLocalEndpointWithConfigurationFile", "Create an endpoint whose adaptor reads content from a staged file named by file_property.",
		[]Param{req("name"), req("adaptor_type"), opt("schemas"), opt("properties"), req("file_property"), req("content")},
		func(_ context.Context, a Args) (any, error) {
			name, adaptorType, schemas, props, err := endpointArgs(a)
			if err != nil {
				return nil, err
			}
			fileProperty, err := a.String("file_property")
			if err != nil {
				return nil, err
			}
			content, err := a.String("content")
			if err != nil {
				return nil, err
			}
			return f.CreateLocalEndpointWithConfigurationFile(name, adaptorType, schemas, props, fileProperty, content)
		})
	t.add("BindRole", "Bind a scenario role to an endpoint, optionally switching its dialog.",
		[]Param{req("role"), req("endpoint"), opt("dialog"), opt("config")},
		func(_ context.Context, a Args) (any, error) {
			role, err := a.String("role")
			if err != nil {
				return nil, err
			}
			endpoint, err := a.String("endpoint")
			if err != nil {
				return nil, err
			}
			dlg, err := a.OptionalString("dialog", "")
			if err != nil {
				return nil, err
			}
			cfg, err := a.OptionalString("config", "")
			if err != nil {
				return nil, err
			}
			return f.BindRole(role, endpoint, dlg, cfg)
		})
	t.add("Load", "Load a scenario definition into a config.",
		[]Param{req("scenario"), opt("config")},
		func(_ context.Context, a Args) (any, error) {
			source, err := a.String("scenario")
			if err != nil {
				return nil, err
			}
			cfg, err := a.OptionalString("config", "")
			if err != nil {
				return nil, err
			}
			return f.Load(source, cfg)
		})
	t.add("LoadNoConfig", "Load a scenario definition into the default config.",
		[]Param{req("scenario")},
		func(_ context.Context, a Args) (any, error) {
			source, err := a.String("scenario")
			if err != nil {
				return nil, err
			}
			return f.LoadNoConfig(source)
		})
	t.add("LoadDataSet", "Load CSV or JSON rows as a named data set.",
		[]Param{req("name"), req("content"), opt("format")},
		func(_ context.Context, a Args) (any, error) {
			name, err := a.String("name")
			if err != nil {
				return nil, err
			}
			content, err := a.String("content")
			if err != nil {
				return nil, err
			}
			format, err := a.OptionalString("format", "csv")
			if err != nil {
				return nil, err
			}
			return f.LoadDataSet(name, format, content)
		})
	t.add("GetDataSetNames", "List loaded data sets.", nil,
		func(context.Context, Args) (any, error) { return f.DataSetNames(), nil })
	t.add("BindTable", "Bind a data set to a table of a config.",
		[]Param{req("table"), req("data_set"), opt("config"), opt("policy")},
		func(_ context.Context, a Args) (any, error) {
			table, err := a.String("table")
			if err != nil {
				return nil, err
			}
			dataSet, err := a.String("data_set")
			if err != nil {
				return nil, err
			}
			cfg, err := a.OptionalString("config", "")
			if err != nil {
				return nil, err
			}
			policy, err := a.OptionalString("policy", "")
			if err != nil {
				return nil, err
			}
			return nil, f.BindTable(table, dataSet, cfg, policy)
		})
	t.add("GetConfigurationDescription", "Describe a config.",
		[]Param{opt("config")},
		func(_ context.Context, a Args) (any, error) {
			cfg, err := a.OptionalString("config", "")
			if err != nil {
				return nil, err
			}
			return f.ConfigurationDescription(cfg)
		})
	t.add("GetConfigurationNames", "List configs.", nil,
		func(context.Context, Args) (any, error) { return f.ConfigurationNames(), nil })
	t.add("SetPreferredScenario", "Prefer one scenario by name, or several by a name-to-weight object; {} clears.",
		[]Param{req("scenario")},
		func(_ context.Context, a Args) (any, error) {
			weights, single, err := a.Weights("scenario")
			if err != nil {
				return nil, err
			}
			if single {
				for name := range weights {
					return nil, f.SetPreferredScenario(name)
				}
			}
			return nil, f.SetPreferredScenarios(weights)
		})
	t.add("RemoveScenario", "Remove a scenario; false when in flight, preferred or unknown.",
		[]Param{req("scenario")},
		func(_ context.Context, a Args) (any, error) {
			name, err := a.String("scenario")
			if err != nil {
				return nil, err
			}
			return f.RemoveScenario(name), nil
		})
	t.add("GetScenarioNames", "List loaded scenarios.", nil,
		func(context.Context, Args) (any, error) { return f.ScenarioNames(), nil })
	t.add("GetInitiatingScenarioNames", "List scenarios that may start sessions.", nil,
		func(context.Context, Args) (any, error) { return f.InitiatingScenarioNames(), nil })
	t.add("GetScenarioDescription", "Describe a scenario.",
		[]Param{req("scenario")},
		func(_ context.Context, a Args) (any, error) {
			name, err := a.String("scenario")
			if err != nil {
				return nil, err
			}
			return f.ScenarioDescription(name)
		})
	t.add("GetScenarioBindings", "Describe a scenario's bindings.",
		[]Param{req("scenario")},
		func(_ context.Context, a Args) (any, error) {
			name, err := a.String("scenario")
			if err != nil {
				return nil, err
			}
			return f.ScenarioBindings(name)
		})
	t.add("GetConnectivityStatusSummary", "Report endpoint readiness.", nil,
		func(context.Context, Args) (any, error) { return f.ConnectivityStatusSummary(), nil })
	t.add("RunSession", "Reset statistics and run one session; messages=true returns the message log.",
		[]Param{req("scenario"), opt("timeout"), opt("messages")},
		func(ctx context.Context, a Args) (any, error) {
			return runSession(ctx, f, a)
		})
	t.add("VerifyStatus", "False when a session ended non-matching or a dialog was rejected.", nil,
		func(context.Context, Args) (any, error) { return f.VerifyStatus(), nil })
	t.add("StartGeneratingSessions", "Start session generation; false when already running.", nil,
		func(context.Context, Args) (any, error) { return f.StartGeneratingSessions(), nil })
	t.add("StopGeneratingSessions", "Stop session generation.", nil,
		func(context.Context, Args) (any, error) {
			f.StopGeneratingSessions()
			return nil, nil
		})
	t.add("SetSessionRate", "Set a constant session rate (sessions per second).",
		[]Param{req("rate")},
		func(_ context.Context, a Args) (any, error) {
			rate, err := a.Float("rate")
			if err != nil {
				return nil, err
			}
			return nil, f.SetSessionRate(rate)
		})
	t.add("RampUpSessionRate", "Move the session rate linearly from initial to target over period.",
		[]Param{req("initial"), req("target"), req("period")},
		func(_ context.Context, a Args) (any, error) {
			initial, err := a.Float("initial")
			if err != nil {
				return nil, err
			}
			target, err := a.Float("target")
			if err != nil {
				return nil, err
			}
			period, err := a.Duration("period", 0)
			if err != nil {
				return nil, err
			}
			return nil, f.RampUpSessionRate(initial, target, period)
		})
	t.add("WaitUntilOperational", "Wait until every endpoint is ready.",
		[]Param{opt("timeout")},
		func(ctx context.Context, a Args) (any, error) {
			timeout, err := a.Duration("timeout", 0)
			if err != nil {
				return nil, err
			}
			return nil, f.WaitUntilOperational(ctx, timeout)
		})
	t.add("GetSessionStatsSnapshot", "Session statistics since the last reset.", nil,
		func(context.Context, Args) (any, error) { return f.SessionStatsSnapshot(), nil })
	t.add("GetDialogStatsSnapshot", "Dialog statistics since the last reset.", nil,
		func(context.Context, Args) (any, error) { return f.DialogStatsSnapshot(), nil })
	t.add("ResetSessionAndDialogStats", "Start a new statistics epoch; returns the previous one.", nil,
		func(context.Context, Args) (any, error) {
			sessions, dialogs := f.ResetSessionAndDialogStats()
			return StatsReport{Sessions: sessions, Dialogs: dialogs}, nil
		})
	t.add("Quit", "Stop generation, wait for sessions in flight up to timeout (indefinitely when omitted) and shut down.",
		[]Param{opt("timeout")},
		func(_ context.Context, a Args) (any, error) {
			timeout, err := a.Duration("timeout", 0)
			if err != nil {
				return nil, err
			}
			err = f.Quit(timeout)
			t.quitOnce.Do(func() { close(t.quit) })
			return nil, err
		})

	return t
}

func (t *Table) add(name, doc string, params []Param, call handler) {
	if params == nil {
		params = []Param{}
	}
	full := Prefix + name
	t.ops[full] = operation{info: OperationInfo{Name: full, Args: params, Doc: doc}, call: call}
}

func endpointArgs(a Args) (name, adaptorType string, schemas []string, props map[string]string, err error) {
	if name, err = a.String("name"); err != nil {
		return
	}
	if adaptorType, err = a.String("adaptor_type"); err != nil {
		return
	}
	if schemas, err = a.Strings("schemas"); err != nil {
		return
	}
	props, err = a.Properties("properties")
	return
}

func runSession(ctx context.Context, f simulator.Facade, a Args) (any, error) {
	name, err := a.String("scenario")
	if err != nil {
		return nil, err
	}
	timeout, err := a.Duration("timeout", 0)
	if err != nil {
		return nil, err
	}
	withMessages, err := a.Bool("messages", false)
	if err != nil {
		return nil, err
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var (
		mu       sync.Mutex
		messages []MessageRecord
		listener func(dialog.MessageEvent)
	)
	if withMessages {
		listener = func(e dialog.MessageEvent) {
			mu.Lock()
			defer mu.Unlock()
			messages = append(messages, MessageRecord{
				Role:       e.Role,
				Step:       e.Step,
				Direction:  e.Direction,
				Name:       e.Message.Name,
				Attributes: e.Message.Attributes,
				Body:       string(e.Message.Body),
				Fallback:   e.Fallback,
			})
		}
	}

	res, err := f.RunSession(ctx, name, listener)
	if err != nil {
		return nil, err
	}
	mu.Lock()
	defer mu.Unlock()
	return SessionReport{
		SessionResult: res,
		DurationMs:    float64(res.Duration) / float64(time.Millisecond),
		Messages:      messages,
	}, nil
}

// Lookup resolves an operation by its full name or by the name without Prefix.
func (t *Table) Lookup(name string) (OperationInfo, bool) {
	op, ok := t.resolve(name)
	return op.info, ok
}

func (t *Table) resolve(name string) (operation, bool) {
	name = strings.TrimSpace(name)
	if op, ok := t.ops[name]; ok {
		return op, true
	}
	op, ok := t.ops[Prefix+name]
	return op, ok
}

// Operations describes every operation, sorted by name.
func (t *Table) Operations() []OperationInfo {
	out := make([]OperationInfo, 0, len(t.ops))
	for _, op := range t.ops {
		out = append(out, op.info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Call invokes the named operation. Arguments not declared by the operation
// are rejected.
func (t *Table) Call(ctx context.Context, name string, args Args) (any, error) {
	op, ok := t.resolve(name)
	if !ok {
		return nil, simerr.Configuration("unknown operation %q", name)
	}
	for arg := range args {
		if !declares(op.info.Args, arg) {
			return nil, simerr.Configuration("%s: unknown argument %q", op.info.Name, arg)
		}
	}
	return op.call(ctx, args)
}

func declares(params []Param, name string) bool {
	for _, p := range params {
		if p.Name == name {
			return true
		}
	}
	return false
}

// Quitted is closed once the Quit operation has run.
func (t *Table) Quitted() <-chan struct{} {
	return t.quit
}
