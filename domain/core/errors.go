package core

import (
	"errors"
	"fmt"
)

// Domain errors - every hard failure of an analysis run unwraps to one of these
var (
	ErrInsufficientGroups = errors.New("insufficient groups")
	ErrUnknownGroup       = errors.New("unknown group")
	ErrDegenerateDesign   = errors.New("degenerate design")
	ErrInvalidInput       = errors.New("invalid input")
	ErrDimensionMismatch  = fmt.Errorf("%w: dimension mismatch", ErrInvalidInput)
	ErrEmptyContrast      = fmt.Errorf("%w: contrast has no non-zero weight", ErrInvalidInput)
)

// InsufficientGroupsError reports that the design could not be built because
// fewer than two distinct group labels were supplied.
type InsufficientGroupsError struct {
	Distinct int
	Groups   []string
}

func (e *InsufficientGroupsError) Error() string {
	return fmt.Sprintf("%v: need at least 2 distinct group labels, got %d %v", ErrInsufficientGroups, e.Distinct, e.Groups)
}

func (e *InsufficientGroupsError) Unwrap() error { return ErrInsufficientGroups }

// UnknownGroupError reports a contrast term that names a group absent from the design.
type UnknownGroupError struct {
	Group    string
	Contrast string
	Known    []string
}

func (e *UnknownGroupError) Error() string {
	if e.Contrast != "" {
		return fmt.Sprintf("%v %q in contrast %q (design groups: %v)", ErrUnknownGroup, e.Group, e.Contrast, e.Known)
	}
	return fmt.Sprintf("%v %q (design groups: %v)", ErrUnknownGroup, e.Group, e.Known)
}

func (e *UnknownGroupError) Unwrap() error { return ErrUnknownGroup }

// DegenerateDesignError reports a design matrix without usable rank.
type DegenerateDesignError struct {
	Rows, Cols int
	Rank       int
}

func (e *DegenerateDesignError) Error() string {
	return fmt.Sprintf("%v: %d×%d design has rank %d", ErrDegenerateDesign, e.Rows, e.Cols, e.Rank)
}

func (e *DegenerateDesignError) Unwrap() error { return ErrDegenerateDesign }

// NewDimensionError builds a dimension mismatch error with context
func NewDimensionError(what string, got, want int) error {
	return fmt.Errorf("%w: %s has %d entries, expected %d", ErrDimensionMismatch, what, got, want)
}

// NewInvalidInputError wraps ErrInvalidInput with a reason
func NewInvalidInputError(reason string) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, reason)
}

// IsDesignError reports whether err prevents any model from being fitted
func IsDesignError(err error) bool {
	return errors.Is(err, ErrInsufficientGroups) ||
		errors.Is(err, ErrDegenerateDesign)
}

// IsInputError reports whether err was caused by the caller's inputs
func IsInputError(err error) bool {
	return errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrUnknownGroup) ||
		IsDesignError(err)
}
