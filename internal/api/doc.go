// Package api exposes reviewd over HTTP: synchronous generation, document
// upload, the document registry, asynchronous generation jobs, health and
// Prometheus metrics. Every route carries the CORS headers browser clients
// expect and answers OPTIONS preflight requests directly.
package api
