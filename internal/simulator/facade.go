package simulator

import (
	"context"
	"time"

	"github.com/torosent/scensim/internal/adaptor"
	"github.com/torosent/scensim/internal/dialog"
	"github.com/torosent/scensim/internal/metrics"
	"github.com/torosent/scensim/internal/registry"
	"github.com/torosent/scensim/internal/runner"
	"github.com/torosent/scensim/internal/scenario"
)

// Facade is the control surface of a simulator. The remote binding layer
// only forwards to it.
type Facade interface {
	// Endpoints
	SetEndpointAddress(endpoint, address string) error
	EndpointNames() []string
	SchemaNames() []string
	SchemaInfos() []registry.SchemaInfo
	AdaptorTypes() []string
	AdaptorTypeInfos() []adaptor.TypeInfo
	AdaptorTypeForSchema(schema string) (string, error)
	CreateLocalEndpoint(name, adaptorType string, schemas []string, properties map[string]string) (registry.Info, error)
	CreateLocalEndpointWithConfigurationFile(name, adaptorType string, schemas []string, properties map[string]string, fileProperty, content string) (registry.Info, error)
	ConnectivityStatusSummary() ConnectivitySummary
	WaitUntilOperational(ctx context.Context, timeout time.Duration) error

	// Scenarios and bindings
	Load(source, config string) (scenario.BindingsDescription, error)
	LoadNoConfig(source string) (scenario.BindingsDescription, error)
	BindRole(role, endpoint, dialog, config string) ([]scenario.BindingsDescription, error)
	LoadDataSet(name, format, content string) (DataSetInfo, error)
	DataSetNames() []string
	BindTable(table, dataSet, config, policy string) error
	ConfigurationDescription(config string) (scenario.ConfigDescription, error)
	ConfigurationNames() []string
	SetPreferredScenario(name string) error
	SetPreferredScenarios(weights map[string]float64) error
	RemoveScenario(name string) bool
	ScenarioNames() []string
	InitiatingScenarioNames() []string
	ScenarioDescription(name string) (scenario.Description, error)
	ScenarioBindings(name string) (scenario.BindingsDescription, error)

	// Traffic
	RunSession(ctx context.Context, name string, onMessage func(dialog.MessageEvent)) (runner.SessionResult, error)
	StartGeneratingSessions() bool
	StopGeneratingSessions()
	SetSessionRate(rate float64) error
	RampUpSessionRate(initial, target float64, period time.Duration) error
	SessionRate() float64

	// Statistics
	SessionStatsSnapshot() metrics.SessionStatusSnapshot
	DialogStatsSnapshot() metrics.DialogStatsSnapshot
	ResetSessionAndDialogStats() (metrics.SessionStatusSnapshot, metrics.DialogStatsSnapshot)
	VerifyStatus() bool

	Quit(timeout time.Duration) error
}

var _ Facade = (*Simulator)(nil)
