// Package verify defines the uniform verification result and the generic
// verifier that every resource kind runs through.
package verify

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"strings"
)

// Result is the outcome of one verification. It is built only through
// Succeeded, SucceededWithValue and Failed and never changes afterwards;
// Success always agrees with the constructor used.
type Result struct {
	success     bool
	message     string
	detail      string
	value       any
	err         string
	stackTrace  string
	diagnostics map[string]string
}

// Succeeded reports a reachable resource.
func Succeeded(message, detail string) Result {
	return Result{success: true, message: message, detail: detail}
}

// SucceededWithValue reports a reachable resource together with a value
// read from it. The value is serialized as-is.
func SucceededWithValue(message, detail string, value any) Result {
	return Result{success: true, message: message, detail: detail, value: value}
}

// Failure describes a failed verification.
type Failure struct {
	Message     string // Optional human-readable summary.
	Error       string // Error summary; "unknown error" when empty.
	Detail      string
	StackTrace  string // Set only for panics.
	Diagnostics map[string]string
}

// Failed reports a failed verification.
func Failed(f Failure) Result {
	if strings.TrimSpace(f.Error) == "" {
		f.Error = "unknown error"
	}
	return Result{
		success:     false,
		message:     f.Message,
		detail:      f.Detail,
		err:         f.Error,
		stackTrace:  f.StackTrace,
		diagnostics: maps.Clone(f.Diagnostics),
	}
}

// FailedErr reports err as a failure, with the full error chain as detail.
func FailedErr(err error) Result {
	return Failed(Failure{Error: err.Error(), Detail: ErrorDetail(err)})
}

func (r Result) Success() bool { return r.success }

func (r Result) Message() string { return r.message }

func (r Result) Detail() string { return r.detail }

// ErrorSummary returns the error summary of a failed result.
func (r Result) ErrorSummary() string { return r.err }

func (r Result) StackTrace() string { return r.stackTrace }

// Value returns the value of a SucceededWithValue result.
func (r Result) Value() (any, bool) { return r.value, r.value != nil }

// Diagnostics returns a copy of the failure diagnostics.
func (r Result) Diagnostics() map[string]string { return maps.Clone(r.diagnostics) }

// withDiagnostics returns a copy of a failed r carrying d when r has none.
func (r Result) withDiagnostics(d map[string]string) Result {
	if r.success || len(r.diagnostics) > 0 || len(d) == 0 {
		return r
	}
	r.diagnostics = maps.Clone(d)
	return r
}

// Envelope is the wire shape of a Result.
type Envelope struct {
	Success     bool              `json:"success"`
	Message     string            `json:"message,omitempty"`
	Detail      string            `json:"detail,omitempty"`
	Value       any               `json:"value,omitempty"`
	Error       string            `json:"error,omitempty"`
	StackTrace  string            `json:"stackTrace,omitempty"`
	Diagnostics map[string]string `json:"diagnostics,omitempty"`
}

// MarshalJSON renders the outbound envelope. Empty fields are omitted.
func (r Result) MarshalJSON() ([]byte, error) {
	return json.Marshal(Envelope{
		Success:     r.success,
		Message:     r.message,
		Detail:      r.detail,
		Value:       r.value,
		Error:       r.err,
		StackTrace:  r.stackTrace,
		Diagnostics: r.diagnostics,
	})
}

// ErrorDetail renders the whole error chain, outermost first, one cause
// per line with its concrete type.
func ErrorDetail(err error) string {
	var b strings.Builder
	for i := 0; err != nil && i < 32; i++ {
		if i > 0 {
			b.WriteString("\n  caused by ")
		}
		fmt.Fprintf(&b, "%T: %s", err, err.Error())
		switch u := err.(type) {
		case interface{ Unwrap() []error }:
			errs := u.Unwrap()
			if len(errs) == 0 {
				return b.String()
			}
			for _, e := range errs[1:] {
				fmt.Fprintf(&b, "\n  also %T: %s", e, e.Error())
			}
			err = errs[0]
		default:
			err = errors.Unwrap(err)
		}
	}
	return b.String()
}
