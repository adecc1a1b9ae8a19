// Package transition validates state changes against the stage graph held by
// the catalog. Validation is pure: no I/O, no mutation.
package transition

import (
	"fmt"
	"strings"

	"github.com/Nomoos/PrismQ-sub002/internal/catalog"
)

// Result reports the outcome of a validation with a human-readable reason on failure.
type Result struct {
	OK     bool
	Reason string
}

// Validator answers transition questions for a fixed catalog.
type Validator struct {
	cat *catalog.Catalog
}

// NewValidator creates a validator over the given catalog.
func NewValidator(cat *catalog.Catalog) *Validator {
	return &Validator{cat: cat}
}

// Validate reports whether from -> to is a permitted transition. Unknown
// stages and illegal transitions are distinct in the reason but both fail.
func (v *Validator) Validate(from, to string) Result {
	if !v.cat.Known(from) {
		return Result{Reason: fmt.Sprintf("unknown stage %q", from)}
	}
	if !v.cat.Known(to) {
		return Result{Reason: fmt.Sprintf("unknown stage %q", to)}
	}
	next := v.cat.NextStates(from)
	for _, n := range next {
		if n == to {
			return Result{OK: true}
		}
	}
	if len(next) == 0 {
		return Result{Reason: fmt.Sprintf("illegal transition %q -> %q: %q is terminal", from, to, from)}
	}
	return Result{Reason: fmt.Sprintf("illegal transition %q -> %q: valid successors of %q are %s",
		from, to, from, strings.Join(next, ", "))}
}

// KnownStage reports whether name is a catalog stage.
func (v *Validator) KnownStage(name string) bool {
	return v.cat.Known(name)
}

// IsValid is a convenience wrapper around Validate.
func (v *Validator) IsValid(from, to string) bool {
	return v.Validate(from, to).OK
}

// NextStates returns the stored successor set; empty for unknown or terminal stages.
func (v *Validator) NextStates(from string) []string {
	return v.cat.NextStates(from)
}

// ValidatePath checks every adjacent pair in seq. An empty sequence or a
// single known stage is trivially ok.
func (v *Validator) ValidatePath(seq []string) Result {
	if len(seq) == 0 {
		return Result{OK: true}
	}
	if len(seq) == 1 {
		if !v.cat.Known(seq[0]) {
			return Result{Reason: fmt.Sprintf("unknown stage %q", seq[0])}
		}
		return Result{OK: true}
	}
	for i := 0; i < len(seq)-1; i++ {
		if r := v.Validate(seq[i], seq[i+1]); !r.OK {
			return Result{Reason: fmt.Sprintf("step %d: %s", i, r.Reason)}
		}
	}
	return Result{OK: true}
}
