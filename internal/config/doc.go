// Package config loads reviewd's configuration from a JSON or YAML file,
// overlays the S3_BUCKET_NAME, AWS_REGION, REVIEWD_ADDR and REVIEWD_LOG_LEVEL
// environment variables, and fills defaults so the daemon can also start with
// no file at all.
package config
