// Package task runs generation requests asynchronously. A Service stores a
// pending Job and publishes its id to a Queue; a Processor consumes ids,
// claims the job and runs it through the invocation gateway exactly once.
// A failed job is terminal: nothing is re-queued.
package task
