// Package errors provides the typed error hierarchy used across the
// treelearner modules. It layers small, inspectable error structs (so
// callers can errors.As their way to a field) on top of
// github.com/cockroachdb/errors, which supplies stack traces and the
// Wrap/Wrapf helpers used at package boundaries.
package errors

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// Sentinel errors that call sites can compare against with errors.Is,
// even after the error has been wrapped several times.
var (
	ErrEmptyData        = errors.New("empty data")
	ErrNotFitted        = errors.New("estimator is not fitted")
	ErrInvalidConfig    = errors.New("invalid configuration")
	ErrDatasetMismatch  = errors.New("dataset mismatch")
	ErrDegenerateGrowth = errors.New("no further splits with positive gain")
)

// ValueError reports that an argument held a value the operation cannot
// accept, independent of its shape (see DimensionError for shape issues).
type ValueError struct {
	Op      string
	Message string
}

func NewValueError(op, message string) *ValueError {
	return &ValueError{Op: op, Message: message}
}

func (e *ValueError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *ValueError) Is(target error) bool { return target == ErrEmptyData && e.Message == "empty data" }

// DimensionError reports a mismatch between an expected and an observed
// size along some axis (Dim identifies which axis; 0 when unambiguous).
type DimensionError struct {
	Op       string
	Expected int
	Got      int
	Dim      int
}

func NewDimensionError(op string, expected, got, dim int) *DimensionError {
	return &DimensionError{Op: op, Expected: expected, Got: got, Dim: dim}
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("%s: dimension mismatch, expected %d got %d (axis %d)", e.Op, e.Expected, e.Got, e.Dim)
}

// NotFittedError reports use of an estimator before it has learned
// parameters from data.
type NotFittedError struct {
	ModelName string
	Method    string
}

func NewNotFittedError(modelName, method string) *NotFittedError {
	return &NotFittedError{ModelName: modelName, Method: method}
}

func (e *NotFittedError) Error() string {
	return fmt.Sprintf("%s is not fitted, call Fit before %s", e.ModelName, e.Method)
}

func (e *NotFittedError) Is(target error) bool { return target == ErrNotFitted }

// ValidationError reports that a named field failed a semantic check
// (as opposed to a hard type or dimension mismatch).
type ValidationError struct {
	Field   string
	Message string
	Value   interface{}
}

func NewValidationError(field, message string, value interface{}) *ValidationError {
	return &ValidationError{Field: field, Message: message, Value: value}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s: %s (got %v)", e.Field, e.Message, e.Value)
}

// ModelError wraps a lower-level cause with the operation that failed.
type ModelError struct {
	Op      string
	Message string
	Err     error
}

func NewModelError(op, message string, err error) *ModelError {
	return &ModelError{Op: op, Message: message, Err: err}
}

func (e *ModelError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
}

func (e *ModelError) Unwrap() error { return e.Err }

// ConfigError reports an eagerly-detected, fatal configuration problem
// (bad num_leaves, contradictory histogram hints, malformed constraint
// vectors). It is raised at Init/ResetConfig time, never mid-training.
type ConfigError struct {
	Field   string
	Message string
}

func NewConfigError(field, message string) *ConfigError {
	return &ConfigError{Field: field, Message: message}
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration for %s: %s", e.Field, e.Message)
}

func (e *ConfigError) Is(target error) bool { return target == ErrInvalidConfig }

// Wrap and Wrapf forward to cockroachdb/errors, adding a stack trace to
// the returned error. Use these at package boundaries instead of
// fmt.Errorf so failures keep a trace back to where they originated.
func Wrap(err error, message string) error {
	return errors.Wrap(err, message)
}

func Wrapf(err error, format string, args ...interface{}) error {
	return errors.Wrapf(err, format, args...)
}

// Recover turns a panic inside the deferring function into an error,
// merging it into *errp if one is already set. Intended to be deferred
// at the top of exported methods that operate on slices/matrices where
// an internal invariant violation would otherwise panic:
//
//	func (t *Trainer) Fit(X, y mat.Matrix) (err error) {
//	    defer errors.Recover(&err, "Trainer.Fit")
//	    ...
//	}
func Recover(errp *error, op string) {
	if r := recover(); r != nil {
		panicErr := fmt.Errorf("%s: panic: %v", op, r)
		if *errp != nil {
			*errp = errors.Wrap(*errp, panicErr.Error())
		} else {
			*errp = panicErr
		}
	}
}
