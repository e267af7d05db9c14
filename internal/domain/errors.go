package domain

import (
	"fmt"
	"net"
	"strings"

	"github.com/pkg/errors"
)

// ErrorKind classifies a failure from the external-call boundary.
// Unclassified errors are never retried so unknown failure modes are not
// masked by blind re-attempts.
type ErrorKind int

const (
	KindUnclassified ErrorKind = iota
	KindRetryable
	KindAuth
	KindValidation
)

func (k ErrorKind) String() string {
	switch k {
	case KindRetryable:
		return "retryable"
	case KindAuth:
		return "authentication"
	case KindValidation:
		return "validation"
	}
	return "unclassified"
}

type classifiedError struct {
	kind ErrorKind
	err  error
}

func (e *classifiedError) Error() string { return e.err.Error() }
func (e *classifiedError) Unwrap() error { return e.err }

// Retryablef builds a transient error.
func Retryablef(format string, args ...any) error {
	return &classifiedError{kind: KindRetryable, err: fmt.Errorf(format, args...)}
}

// Validationf builds a precondition/validation error; never retried.
func Validationf(format string, args ...any) error {
	return &classifiedError{kind: KindValidation, err: fmt.Errorf(format, args...)}
}

// Authf builds an authentication error; never retried automatically.
func Authf(format string, args ...any) error {
	return &classifiedError{kind: KindAuth, err: fmt.Errorf(format, args...)}
}

// AsKind wraps err with an explicit classification.
func AsKind(kind ErrorKind, err error) error {
	if err == nil {
		return nil
	}
	return &classifiedError{kind: kind, err: err}
}

// StatusCoder is implemented by boundary errors that carry an HTTP status.
type StatusCoder interface {
	HTTPStatus() int
}

var quotaSignatures = []string{
	"rate limit",
	"rate_limit",
	"ratelimitexceeded",
	"quota",
	"resource_exhausted",
	"too many requests",
}

// Classify maps an error onto the taxonomy. Explicit classifications win,
// then HTTP status, then network transience, then quota/rate-limit message
// signatures. Everything else stays unclassified.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindUnclassified
	}

	var ce *classifiedError
	if errors.As(err, &ce) {
		return ce.kind
	}

	var sc StatusCoder
	if errors.As(err, &sc) {
		switch code := sc.HTTPStatus(); {
		case code == 429:
			return KindRetryable
		case code == 401 || code == 403:
			return KindAuth
		case code >= 500:
			return KindRetryable
		case code >= 400:
			return KindValidation
		}
	}

	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return KindRetryable
	}
	var dns *net.DNSError
	if errors.As(err, &dns) {
		return KindRetryable
	}
	var op *net.OpError
	if errors.As(err, &op) {
		return KindRetryable
	}

	msg := strings.ToLower(err.Error())
	for _, sig := range quotaSignatures {
		if strings.Contains(msg, sig) {
			return KindRetryable
		}
	}
	if strings.Contains(msg, "connection reset") || strings.Contains(msg, "connection refused") {
		return KindRetryable
	}

	return KindUnclassified
}

// IsRetryable reports whether the failure may be re-attempted.
func IsRetryable(err error) bool {
	return Classify(err) == KindRetryable
}
