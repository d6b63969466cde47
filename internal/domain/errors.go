package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Error taxonomy shared by every operation. Check with errors.Is().
var (
	// ErrInvalidInput is returned for malformed, conflicting or missing arguments
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound is returned when a target entity is absent
	ErrNotFound = errors.New("entity not found")

	// ErrAmbiguousReference is returned when a name resolves to more than one entity
	ErrAmbiguousReference = errors.New("ambiguous reference")

	// ErrConnectionFailed is returned for control-plane auth or transport failures
	ErrConnectionFailed = errors.New("connection failed")

	// ErrNoExternalNetwork is returned when no externally routable network is visible
	ErrNoExternalNetwork = errors.New("no external network")

	// ErrAllocationTimeout is returned when a durable record never appeared in time
	ErrAllocationTimeout = errors.New("allocation timeout")

	// ErrPartialRetirementFailure is returned when one or more addresses could not be freed
	ErrPartialRetirementFailure = errors.New("partial retirement failure")
)

// InvalidInputf formats an ErrInvalidInput.
func InvalidInputf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// NotFoundf formats an ErrNotFound.
func NotFoundf(format string, args ...interface{}) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrNotFound)
}

// AmbiguousReferenceError reports a name that still matches several records
// after every supplied filter was applied.
type AmbiguousReferenceError struct {
	Kind    string
	Name    string
	Count   int
	Filters map[string]string
}

func (e *AmbiguousReferenceError) Error() string {
	msg := fmt.Sprintf("%s: %d %s records named %q", ErrAmbiguousReference, e.Count, e.Kind, e.Name)
	if len(e.Filters) == 0 {
		return msg + " (no filters supplied)"
	}
	keys := make([]string, 0, len(e.Filters))
	for k := range e.Filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, e.Filters[k]))
	}
	return fmt.Sprintf("%s with filters [%s]", msg, strings.Join(parts, ", "))
}

func (e *AmbiguousReferenceError) Unwrap() error { return ErrAmbiguousReference }

// AllocationError carries the partial state of an allocation that did not
// complete: addresses that became durable, addresses the control plane
// accepted but that never became durable, and addresses released during
// rollback.
type AllocationError struct {
	Cause     error
	Converged map[string]int64
	Orphaned  []Allocation
	Released  []Allocation
}

func (e *AllocationError) Error() string {
	var b strings.Builder
	b.WriteString(e.Cause.Error())
	if len(e.Orphaned) > 0 {
		addrs := make([]string, 0, len(e.Orphaned))
		for _, a := range e.Orphaned {
			addrs = append(addrs, a.Address)
		}
		fmt.Fprintf(&b, "; orphaned addresses: %s", strings.Join(addrs, ", "))
	}
	if len(e.Released) > 0 {
		addrs := make([]string, 0, len(e.Released))
		for _, a := range e.Released {
			addrs = append(addrs, a.Address)
		}
		fmt.Fprintf(&b, "; released addresses: %s", strings.Join(addrs, ", "))
	}
	return b.String()
}

func (e *AllocationError) Unwrap() error { return e.Cause }

// Retirement outcome for a released address.
const OutcomeReleased = "Released"

// RetirementError carries the per-address outcome of a retirement in which at
// least one address could not be freed.
type RetirementError struct {
	Outcomes map[string]string
}

func (e *RetirementError) Error() string {
	var failed []string
	for addr, outcome := range e.Outcomes {
		if outcome != OutcomeReleased {
			failed = append(failed, addr)
		}
	}
	sort.Strings(failed)
	return fmt.Sprintf("%s: failed to disassociate and release %s", ErrPartialRetirementFailure, strings.Join(failed, ", "))
}

func (e *RetirementError) Unwrap() error { return ErrPartialRetirementFailure }

// Kind names the taxonomy entry err belongs to, or "Internal".
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidInput):
		return "InvalidInput"
	case errors.Is(err, ErrAmbiguousReference):
		return "AmbiguousReference"
	case errors.Is(err, ErrNotFound):
		return "NotFound"
	case errors.Is(err, ErrConnectionFailed):
		return "ConnectionFailed"
	case errors.Is(err, ErrNoExternalNetwork):
		return "NoExternalNetwork"
	case errors.Is(err, ErrAllocationTimeout):
		return "AllocationTimeout"
	case errors.Is(err, ErrPartialRetirementFailure):
		return "PartialRetirementFailure"
	default:
		return "Internal"
	}
}
