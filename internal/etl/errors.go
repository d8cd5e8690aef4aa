package etl

import "fmt"

// ExtractError reports a failed retrieval stage. The run produces no
// comparables or classification when extraction fails.
type ExtractError struct {
	Err error
}

func (e *ExtractError) Error() string {
	return fmt.Sprintf("etl: extract: %v", e.Err)
}

func (e *ExtractError) Unwrap() error {
	return e.Err
}

// TransformError reports a failed transform sub-step. Step names the
// sub-step: "classify" or "rank".
type TransformError struct {
	Step string
	Err  error
}

func (e *TransformError) Error() string {
	return fmt.Sprintf("etl: transform %s: %v", e.Step, e.Err)
}

func (e *TransformError) Unwrap() error {
	return e.Err
}

// LoadError reports a failed artifact persist.
type LoadError struct {
	RunID string
	Err   error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("etl: load run %s: %v", e.RunID, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}
