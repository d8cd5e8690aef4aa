package gis

import "fmt"

// SpatialOperationError reports an invalid or empty geometry, or a failed
// reprojection.
type SpatialOperationError struct {
	Op     string
	Reason string
}

func (e *SpatialOperationError) Error() string {
	return fmt.Sprintf("gis: %s: %s", e.Op, e.Reason)
}

func spatialErr(op, format string, args ...any) *SpatialOperationError {
	return &SpatialOperationError{Op: op, Reason: fmt.Sprintf(format, args...)}
}
