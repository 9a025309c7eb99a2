// Package patchers implements the provider client patchers: explicit
// Wrap(client) decorators for OpenAI, Bedrock, VertexAI and MCP that
// splice the five-step inspection flow (early-out, normalize,
// pre-inspect/forward, delegate, post-inspect) around a real
// third-party SDK client, plus the Bedrock fake-stream synthesizer
// used in Gateway mode.
//
// Go has no runtime monkey-patching story, so the binding point is an
// explicit Wrap call rather than import-time instrumentation: callers
// construct the real SDK client as usual and pass it through Wrap to
// get back a client with the same method surface, now
// inspection-aware.
package patchers
