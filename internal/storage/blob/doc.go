// Package blob stores uploaded document bytes. S3Store writes to an S3 (or
// S3-compatible) bucket; FileStore writes under a local directory and is meant
// for development without cloud credentials.
package blob
