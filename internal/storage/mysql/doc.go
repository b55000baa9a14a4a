// Package mysql persists the uploaded-document registry. It ships a JSON-lines
// file implementation for single-node development and a MySQL implementation
// whose schema is managed by the embedded migrations under deploy/migrations.
package mysql
