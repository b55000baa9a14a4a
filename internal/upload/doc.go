// Package upload persists uploaded contract documents. It derives a unique
// object key from the upload time, a random suffix and the sanitised client
// filename, infers the content type from the key, writes the bytes through a
// blob.Store and records the upload in the document registry.
package upload
