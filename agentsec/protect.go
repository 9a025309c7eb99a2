package agentsec

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/cisco-ai-defense/agentsec-go/agentsec/httpclient"
	"github.com/cisco-ai-defense/agentsec-go/agentsec/obslog"
)

// Runtime bundles the process-wide objects a provider patcher needs:
// the frozen configuration, the idempotent patch registry and a
// shared HTTP client for outbound inspection/gateway calls. Protect
// builds one and also installs it as the package default so that
// Wrap(client) calls that omit a *Runtime use it.
type Runtime struct {
	State      *RuntimeState
	Registry   *Registry
	HTTPClient *httpclient.Client

	telemetryShutdown telemetryShutdown
}

// Close flushes and tears down any OTLP exporters installed by
// Options.Telemetry. Safe to call on a Runtime built without
// telemetry configured; it is then a no-op.
func (rt *Runtime) Close(ctx context.Context) error {
	if rt.telemetryShutdown == nil {
		return nil
	}
	return rt.telemetryShutdown(ctx)
}

var (
	defaultMu      sync.RWMutex
	defaultRuntime *Runtime
)

// Default returns the process-global Runtime installed by the most
// recent call to Protect, or nil if Protect has not been called yet.
func Default() *Runtime {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultRuntime
}

func setDefault(rt *Runtime) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultRuntime = rt
}

// Options configures Protect. Logger, PrometheusRegisterer and
// Telemetry are optional ambient wiring; Overrides and
// HTTPClientConfig feed RuntimeState.Resolve and the shared HTTP
// client respectively.
type Options struct {
	Overrides            Overrides
	HTTPClientConfig     httpclient.Config
	Logger               *zap.Logger
	PrometheusRegisterer prometheus.Registerer
	Telemetry            *TelemetryConfig
}

// Protect is the single bootstrap entry point. It resolves
// RuntimeState (explicit argument > process-wide setter > env var >
// config file > default, with the optional YAML file named by
// Overrides.ConfigFile and the setter tier populated via
// SetProcessDefaults), wires the ambient logger and metrics registry,
// builds the shared HTTP client, and installs the result as the
// process default. It never itself enumerates or wraps provider
// clients — wrapping is an explicit per-provider Wrap(client) call
// made by the caller once its SDK clients exist.
// Protect is safe to call more than once: the underlying RuntimeState
// and Registry are idempotent, and repeated calls simply rebuild the
// shared HTTP client. The only failure mode is a named config file
// that cannot be read or parsed.
func Protect(opts Options) (*Runtime, error) {
	if opts.Logger != nil {
		obslog.SetGlobal(opts.Logger)
	}
	ensureMetrics(opts.PrometheusRegisterer)

	existing := Default()
	var state *RuntimeState
	var registry *Registry
	if existing != nil {
		state = existing.State
		registry = existing.Registry
	} else {
		state = NewRuntimeState()
		registry = NewRegistry()
	}
	if err := state.Resolve(opts.Overrides); err != nil {
		return nil, err
	}

	cfg := opts.HTTPClientConfig
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = obslog.For("httpclient")
	}

	rt := &Runtime{
		State:      state,
		Registry:   registry,
		HTTPClient: httpclient.New(cfg),
	}
	if opts.Telemetry != nil {
		shutdown, err := setupTelemetry(context.Background(), *opts.Telemetry)
		if err != nil {
			return nil, err
		}
		rt.telemetryShutdown = shutdown
	}
	setDefault(rt)
	return rt, nil
}

// GetPatchedClients returns the provider names successfully patched
// so far against the process-default Runtime, or nil if Protect has
// not been called.
func GetPatchedClients() []string {
	rt := Default()
	if rt == nil {
		return nil
	}
	return rt.Registry.PatchedNames()
}
