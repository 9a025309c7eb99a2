package agentsec

import "context"

// callState is the mutable part of a CallContext. It is boxed behind a
// pointer stored in context.Context so that nested patched calls that
// carry the same context.Context observe the same state, matching the
// "nested patched calls see the same context" propagation rule.
type callState struct {
	metadata map[string]any
	skipLLM  bool
	skipMCP  bool
	done     bool
	decision *Decision
}

type callStateKey struct{}

// WithCallContext installs a fresh, empty call state on ctx if one is
// not already present, and returns the resulting context (ctx itself
// when a call state is already installed). Patchers call this once at
// their outermost entry point; nested patched calls reuse the existing
// state untouched.
func WithCallContext(ctx context.Context) context.Context {
	if _, ok := ctx.Value(callStateKey{}).(*callState); ok {
		return ctx
	}
	return context.WithValue(ctx, callStateKey{}, &callState{metadata: map[string]any{}})
}

func stateFrom(ctx context.Context) *callState {
	if s, ok := ctx.Value(callStateKey{}).(*callState); ok {
		return s
	}
	// A patched entry point was invoked without an enclosing
	// WithCallContext; behave as if an empty one were installed so
	// callers never see a nil dereference.
	return &callState{metadata: map[string]any{}}
}

// Metadata returns the free-form key/value bag threaded through this
// logical call (user, application, transaction id, ...).
func Metadata(ctx context.Context) map[string]any {
	return stateFrom(ctx).metadata
}

// WithMetadata merges kv into the current call's metadata bag and
// returns ctx unchanged (the bag is mutated in place since it is
// shared by reference across the logical call).
func WithMetadata(ctx context.Context, kv map[string]any) context.Context {
	s := stateFrom(ctx)
	for k, v := range kv {
		s.metadata[k] = v
	}
	return ctx
}

// Done reports whether an inspection has already reached a terminal
// decision for this logical call.
func Done(ctx context.Context) bool { return stateFrom(ctx).done }

// SetDecision records decision as the last one reached for this
// logical call and marks the call done, preventing double inspection
// when a nested patched library re-enters.
func SetDecision(ctx context.Context, decision Decision) {
	s := stateFrom(ctx)
	s.decision = &decision
	s.done = true
}

// LastDecision returns the most recently recorded Decision for this
// logical call, if any.
func LastDecision(ctx context.Context) (Decision, bool) {
	s := stateFrom(ctx)
	if s.decision == nil {
		return Decision{}, false
	}
	return *s.decision, true
}

// SkipLLM reports whether LLM inspection is currently suppressed for
// this logical call.
func SkipLLM(ctx context.Context) bool { return stateFrom(ctx).skipLLM }

// SkipMCP reports whether MCP inspection is currently suppressed for
// this logical call.
func SkipMCP(ctx context.Context) bool { return stateFrom(ctx).skipMCP }

// SkipLLMGuard suppresses LLM inspection for the duration of fn,
// guaranteeing the flag is released on every exit path including a
// panic unwinding through fn.
func SkipLLMGuard(ctx context.Context, fn func()) {
	s := stateFrom(ctx)
	prev := s.skipLLM
	s.skipLLM = true
	defer func() { s.skipLLM = prev }()
	fn()
}

// SkipMCPGuard suppresses MCP inspection for the duration of fn, with
// the same guaranteed-release semantics as SkipLLMGuard.
func SkipMCPGuard(ctx context.Context, fn func()) {
	s := stateFrom(ctx)
	prev := s.skipMCP
	s.skipMCP = true
	defer func() { s.skipMCP = prev }()
	fn()
}
