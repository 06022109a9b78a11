// Package apierr defines the typed failures returned by the analyzer.
// Every error carries a machine readable Reason so callers can decide
// whether a retry makes sense.
package apierr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
)

// Reason is a machine readable failure category.
type Reason string

const (
	ReasonNotFound        Reason = "not_found"
	ReasonUnreachable     Reason = "unreachable"
	ReasonUnparseable     Reason = "unparseable"
	ReasonTimeout         Reason = "timeout"
	ReasonCanceled        Reason = "canceled"
	ReasonLiveUnavailable Reason = "live_unavailable"
	ReasonInternal        Reason = "internal"
)

// Retryable reports whether the same request could succeed later.
func (r Reason) Retryable() bool {
	return r == ReasonUnreachable || r == ReasonTimeout
}

// NotFoundError means the package version does not exist.
type NotFoundError struct {
	Package string
	Version string
	Err     error
}

func (e *NotFoundError) Error() string {
	msg := fmt.Sprintf("%s@%s not found", e.Package, e.Version)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *NotFoundError) Unwrap() error { return e.Err }

// ExtractionError means neither strategy produced a surface.
type ExtractionError struct {
	Package string
	Version string
	Reason  Reason
	// Live records why live extraction did not succeed, if it was tried.
	Live error
	Err  error
}

func (e *ExtractionError) Error() string {
	msg := fmt.Sprintf("extracting %s@%s: %s", e.Package, e.Version, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// ComparisonError means one or both surfaces were unobtainable and the
// caller did not ask for a degraded result.
type ComparisonError struct {
	Package       string
	OldVersion    string
	NewVersion    string
	Reason        Reason
	PartialReason string
	Err           error
}

func (e *ComparisonError) Error() string {
	msg := fmt.Sprintf("comparing %s %s..%s: %s", e.Package, e.OldVersion, e.NewVersion, e.Reason)
	if e.PartialReason != "" {
		msg += " (" + e.PartialReason + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ComparisonError) Unwrap() error { return e.Err }

// ResourceDiscoveryError is never fatal to a report.
type ResourceDiscoveryError struct {
	Package string
	Reason  Reason
	Err     error
}

func (e *ResourceDiscoveryError) Error() string {
	msg := fmt.Sprintf("finding migration resources for %s: %s", e.Package, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ResourceDiscoveryError) Unwrap() error { return e.Err }

// CacheError signals a broken cache invariant. It is raised with panic,
// never returned.
type CacheError struct {
	Op  string
	Msg string
}

func (e *CacheError) Error() string {
	return fmt.Sprintf("surface cache %s: %s", e.Op, e.Msg)
}

// Unparseable marks a failure to read source. ReasonOf maps it to
// ReasonUnparseable.
type Unparseable struct {
	Err error
}

func (e *Unparseable) Error() string { return "unparseable source: " + e.Err.Error() }
func (e *Unparseable) Unwrap() error { return e.Err }

// Unreachable marks an upstream that answered with a server error or
// refused service. ReasonOf maps it to ReasonUnreachable.
type Unreachable struct {
	Err error
}

func (e *Unreachable) Error() string { return "upstream unreachable: " + e.Err.Error() }
func (e *Unreachable) Unwrap() error { return e.Err }

// ReasonOf classifies err. Typed errors report their own reason; raw
// errors are classified by cause.
func ReasonOf(err error) Reason {
	if err == nil {
		return ""
	}

	var ee *ExtractionError
	if errors.As(err, &ee) {
		return ee.Reason
	}
	var ce *ComparisonError
	if errors.As(err, &ce) {
		return ce.Reason
	}
	var re *ResourceDiscoveryError
	if errors.As(err, &re) {
		return re.Reason
	}
	var nf *NotFoundError
	if errors.As(err, &nf) {
		return ReasonNotFound
	}
	var up *Unparseable
	if errors.As(err, &up) {
		return ReasonUnparseable
	}
	var ur *Unreachable
	if errors.As(err, &ur) {
		return ReasonUnreachable
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return ReasonTimeout
	case errors.Is(err, context.Canceled):
		return ReasonCanceled
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ReasonTimeout
		}
		return ReasonUnreachable
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return ReasonUnreachable
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ReasonUnreachable
	}
	return ReasonInternal
}
