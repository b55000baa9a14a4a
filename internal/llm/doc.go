// Package llm routes text-generation requests to heterogeneous model backends.
//
// A Gateway selects a backend adapter for the requested model identifier,
// lets the adapter shape the backend-specific payload, performs exactly one
// addressed invocation through an Invoker and asks the same adapter to pull a
// single answer string out of the backend-specific response. Every failure is
// reported as an *errors.Error carrying one of the codes declared in this
// package.
package llm
