package task

import "strings"

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// ListOptions controls how jobs are selected when querying the store.
type ListOptions struct {
	Limit    int
	Offset   int
	Statuses []Status
	ModelID  string
}

func (opts *ListOptions) applyDefaults() {
	if opts.Limit <= 0 {
		opts.Limit = defaultListLimit
	}
	if opts.Limit > maxListLimit {
		opts.Limit = maxListLimit
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}
	opts.Statuses = normalizeStatuses(opts.Statuses)
	opts.ModelID = strings.TrimSpace(opts.ModelID)
}

func (opts ListOptions) matches(job *Job) bool {
	if opts.ModelID != "" && job.Request.ModelID != opts.ModelID {
		return false
	}
	if len(opts.Statuses) == 0 {
		return true
	}
	for _, status := range opts.Statuses {
		if job.Status == status {
			return true
		}
	}
	return false
}

// ListOption mutates ListOptions.
type ListOption func(*ListOptions)

// WithLimit limits the number of jobs returned.
func WithLimit(limit int) ListOption {
	return func(opts *ListOptions) {
		opts.Limit = limit
	}
}

// WithStatuses filters jobs by the provided statuses. Unknown values are ignored.
func WithStatuses(statuses ...Status) ListOption {
	return func(opts *ListOptions) {
		opts.Statuses = append(opts.Statuses[:0], statuses...)
	}
}

// WithOffset skips the first n matching jobs.
func WithOffset(n int) ListOption {
	return func(opts *ListOptions) {
		opts.Offset = n
	}
}

// WithModelID filters jobs addressed to one model.
func WithModelID(modelID string) ListOption {
	return func(opts *ListOptions) {
		opts.ModelID = modelID
	}
}

func buildListOptions(opts []ListOption) ListOptions {
	options := ListOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	options.applyDefaults()
	return options
}

func normalizeStatuses(input []Status) []Status {
	if len(input) == 0 {
		return nil
	}
	seen := make(map[Status]struct{}, len(input))
	result := make([]Status, 0, len(input))
	for _, status := range input {
		if !IsValidStatus(status) {
			continue
		}
		if _, ok := seen[status]; ok {
			continue
		}
		seen[status] = struct{}{}
		result = append(result, status)
	}
	if len(result) == 0 {
		return nil
	}
	return result
}
