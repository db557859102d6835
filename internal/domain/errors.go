// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrValidation indicates a request failed domain validation.
var ErrValidation = errors.New("validation failed")

// ErrIllegalTransition indicates a run state change that is not in the
// transition table. The run keeps its prior state.
var ErrIllegalTransition = errors.New("illegal state transition")

// ErrAdmissionDenied indicates a run requires a tag whose concurrency limit
// is zero. Admission can never be granted, so the run must abort rather
// than wait.
var ErrAdmissionDenied = errors.New("admission permanently denied")

// ErrCacheKeyUnavailable indicates a cache key could not be derived from the
// run inputs. Caching is disabled for the run; execution proceeds.
var ErrCacheKeyUnavailable = errors.New("cache key unavailable")
