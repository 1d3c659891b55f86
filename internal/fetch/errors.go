package fetch

import "github.com/pkg/errors"

// ErrExtractionFailed wraps failures reported by the external tool. Never
// retried here; retry policy belongs to clients.
var ErrExtractionFailed = errors.New("extraction failed")

// ErrStorage wraps disk failures (write, stat, rename). The partial file is
// always cleaned up before this propagates.
var ErrStorage = errors.New("storage failure")
