package model

import (
	"errors"
	"fmt"
)

// ErrRunTimeout marks work abandoned because the run deadline passed.
var ErrRunTimeout = errors.New("run deadline exceeded")

// FetchError is an adapter-level failure: network, timeout or an upstream
// 4xx/5xx. It is isolated to one source.
type FetchError struct {
	Source string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Source, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// NormalizationReason classifies a record-level normalization failure.
type NormalizationReason string

const (
	ReasonUnparseableDate      NormalizationReason = "unparseable_date"
	ReasonMissingRequiredField NormalizationReason = "missing_required_field"
	// ReasonUnknownCategory never rejects a record; it is counted only.
	ReasonUnknownCategory NormalizationReason = "unknown_category"
)

// NormalizationError rejects a single record.
type NormalizationError struct {
	Reason NormalizationReason
	Field  string
	Value  string
}

func (e *NormalizationError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("normalize: %s: %s %q", e.Reason, e.Field, e.Value)
	}
	return fmt.Sprintf("normalize: %s: %s", e.Reason, e.Field)
}

// StoreWriteError is a record-scoped write failure that survived all retries.
type StoreWriteError struct {
	NaturalKey string
	Attempts   int
	Err        error
}

func (e *StoreWriteError) Error() string {
	return fmt.Sprintf("write %s after %d attempt(s): %v", e.NaturalKey, e.Attempts, e.Err)
}

func (e *StoreWriteError) Unwrap() error {
	return e.Err
}

// ReasonOf returns the normalization reason carried by err, if any.
func ReasonOf(err error) (NormalizationReason, bool) {
	var ne *NormalizationError
	if errors.As(err, &ne) {
		return ne.Reason, true
	}
	return "", false
}
