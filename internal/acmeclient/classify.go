package acmeclient

import (
	"context"
	"errors"
	"strings"

	"github.com/Hardcoreprawn/ai-content-farm-sub006/internal/certerr"

	"github.com/go-acme/lego/v4/acme"
)

// Classify maps an issuance error onto the shared taxonomy so the rotation
// scheduler can pick the right retry curve. Errors that already carry a kind
// pass through unchanged.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}

	var classified *certerr.Error
	if errors.As(err, &classified) {
		return err
	}

	var problem *acme.ProblemDetails
	if errors.As(err, &problem) {
		return classifyProblem(op, err, problem.Type, problem.HTTPStatus)
	}

	// lego aggregates per-domain failures into opaque errors; fall back to
	// the problem-type URNs embedded in the message.
	msg := err.Error()
	switch {
	case strings.Contains(msg, "urn:ietf:params:acme:error:rateLimited"),
		strings.Contains(msg, "too many certificates"),
		strings.Contains(msg, "too many requests"):
		return certerr.RateLimited(op, err)

	case strings.Contains(msg, "urn:ietf:params:acme:error:dns"),
		strings.Contains(msg, "urn:ietf:params:acme:error:unauthorized"),
		strings.Contains(msg, "urn:ietf:params:acme:error:incorrectResponse"),
		strings.Contains(msg, "urn:ietf:params:acme:error:caa"),
		strings.Contains(msg, "urn:ietf:params:acme:error:connection"):
		return certerr.Validation(op, err)

	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		// The workflow deadline expired while the authority was still
		// validating; bounded retries apply.
		return certerr.Validation(op, err)
	}

	return certerr.Transient(op, err)
}

func classifyProblem(op string, err error, problemType string, httpStatus int) error {
	switch {
	case strings.Contains(problemType, "rateLimited") || httpStatus == 429:
		return certerr.RateLimited(op, err)
	case strings.Contains(problemType, "dns"),
		strings.Contains(problemType, "unauthorized"),
		strings.Contains(problemType, "incorrectResponse"),
		strings.Contains(problemType, "caa"):
		return certerr.Validation(op, err)
	case strings.Contains(problemType, "accountDoesNotExist"),
		strings.Contains(problemType, "invalidContact"),
		strings.Contains(problemType, "externalAccountRequired"):
		return certerr.Configuration(op, err)
	}
	return certerr.Transient(op, err)
}
