package models

import (
	"errors"
	"fmt"
)

// ErrorKind is the failure category recorded on a JobOutcome.
type ErrorKind string

const (
	KindInvalidInput             ErrorKind = "InvalidInput"
	KindServiceTimeout           ErrorKind = "ServiceTimeout"
	KindServiceUnreachable       ErrorKind = "ServiceUnreachable"
	KindServiceBadStatus         ErrorKind = "ServiceBadStatus"
	KindServiceEmptyResult       ErrorKind = "ServiceEmptyResult"
	KindServiceMalformedResponse ErrorKind = "ServiceMalformedResponse"
	KindStorageFailure           ErrorKind = "StorageFailure"
	KindConnectionFatal          ErrorKind = "ConnectionFatal"
)

// Retryable reports whether a job that failed with this kind should be redelivered
// through the queue. Storage failures are excluded: redelivery would call the
// analysis service again for results we already have.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindServiceTimeout, KindServiceUnreachable, KindServiceBadStatus,
		KindServiceEmptyResult, KindServiceMalformedResponse:
		return true
	default:
		return false
	}
}

type AnalysisErrorKind int

const (
	AnalysisInvalidInput AnalysisErrorKind = iota
	AnalysisTimeout
	AnalysisUnreachable
	AnalysisBadStatus
	AnalysisEmptyResult
	AnalysisMalformedResponse
)

func (k AnalysisErrorKind) String() string {
	switch k {
	case AnalysisInvalidInput:
		return "InvalidInput"
	case AnalysisTimeout:
		return "Timeout"
	case AnalysisUnreachable:
		return "Unreachable"
	case AnalysisBadStatus:
		return "BadStatus"
	case AnalysisEmptyResult:
		return "EmptyResult"
	case AnalysisMalformedResponse:
		return "MalformedResponse"
	default:
		return "Unknown"
	}
}

// AnalysisError is returned by analyzers. StatusCode is only set for BadStatus.
type AnalysisError struct {
	Kind       AnalysisErrorKind
	StatusCode int
	Err        error
}

func (e *AnalysisError) Error() string {
	var msg string
	if e.Kind == AnalysisBadStatus {
		msg = fmt.Sprintf("%s(%d)", e.Kind, e.StatusCode)
	} else {
		msg = e.Kind.String()
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AnalysisError) Unwrap() error {
	return e.Err
}

// OutcomeKind maps an analyzer failure onto the job outcome taxonomy.
func (e *AnalysisError) OutcomeKind() ErrorKind {
	switch e.Kind {
	case AnalysisInvalidInput:
		return KindInvalidInput
	case AnalysisTimeout:
		return KindServiceTimeout
	case AnalysisUnreachable:
		return KindServiceUnreachable
	case AnalysisBadStatus:
		return KindServiceBadStatus
	case AnalysisEmptyResult:
		return KindServiceEmptyResult
	default:
		return KindServiceMalformedResponse
	}
}

func NewAnalysisError(kind AnalysisErrorKind, err error) *AnalysisError {
	return &AnalysisError{Kind: kind, Err: err}
}

// IsAnalysisKind reports whether err carries an AnalysisError of the given kind.
func IsAnalysisKind(err error, kind AnalysisErrorKind) bool {
	var ae *AnalysisError
	return errors.As(err, &ae) && ae.Kind == kind
}
