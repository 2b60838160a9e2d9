// Package generation defines the boundary between the job orchestrator and
// the external song generation provider. It holds the Provider interface,
// the typed status payload the provider returns, the transient/permanent
// error classification used by retry logic, and Parse, which turns a
// possibly partial payload into a status and a list of typed choices.
package generation
