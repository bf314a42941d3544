package verify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"

	"github.com/jkaninda/echoservice/internal/connection"
	"github.com/jkaninda/echoservice/internal/credential"
)

// Error classes recorded in failure diagnostics and metrics.
const (
	ClassNotFound   = "not_found"
	ClassCredential = "credential"
	ClassProbe      = "probe"
)

// ProbeError is a resource-specific failure raised by a probe. Its message
// is the underlying error's message.
type ProbeError struct {
	Kind string
	Err  error
}

func (e *ProbeError) Error() string { return e.Err.Error() }

func (e *ProbeError) Unwrap() error { return e.Err }

// TimeoutError reports a probe that did not finish within its deadline.
type TimeoutError struct {
	Kind  string
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s probe timed out after %s", e.Kind, e.After)
}

func (e *TimeoutError) Unwrap() error { return context.DeadlineExceeded }

// MissingParam reports a required request parameter that was not supplied.
func MissingParam(name string) error {
	return connection.Missing("parameter", name)
}

// InvalidParam reports a parameter whose value cannot be used.
func InvalidParam(name, value string, err error) error {
	return fmt.Errorf("parameter '%s' is invalid (%q): %w", name, value, err)
}

// Classify maps err onto not_found, credential or probe.
func Classify(err error) string {
	var (
		notFound   *connection.NotFoundError
		credErr    *credential.CredentialError
		authFailed *azidentity.AuthenticationFailedError
	)
	switch {
	case errors.As(err, &notFound):
		return ClassNotFound
	case errors.As(err, &credErr), errors.As(err, &authFailed):
		return ClassCredential
	default:
		return ClassProbe
	}
}
