// Package common provides error handling utilities for the ABAC engine.
// It includes structured error types, taxonomy-based error constructors,
// and error classification functions for consistent error handling across
// the policy compiler, residual evaluator, and authorization runner.
//
//nolint:all
package common

import (
	"errors"
	"strings"
)

// ErrorHandler represents a structured error with metadata, mirroring the
// kind/text/correlation shape used throughout the engine's logging.
type ErrorHandler struct {
	MessageType   string `json:"messageType"`             // Kind of the error (e.g., "InvalidPolicy")
	Text          string `json:"text"`                    // Human-readable error description
	Code          string `json:"code,omitempty"`          // Taxonomy code
	CorrelationID string `json:"correlationId,omitempty"` // Unique identifier for error tracking
	Timestamp     string `json:"timestamp,omitempty"`     // RFC3339 formatted timestamp
}

// NewErrorHandler creates a new ErrorHandler instance with the provided parameters.
func NewErrorHandler(messageType string, text error, code string, correlationID string, timestamp string) *ErrorHandler {
	return &ErrorHandler{
		MessageType:   messageType,
		Text:          text.Error(),
		Code:          code,
		CorrelationID: correlationID,
		Timestamp:     timestamp,
	}
}

// Error taxonomy. Deny-on-uncertainty applies: any caller that cannot
// classify an error returned by the engine must treat it as a denial.
const (
	codeInvalidPolicy      = "InvalidPolicy: "
	codeUnknownEntity      = "UnknownEntity: "
	codeAmbiguousExternal  = "AmbiguousExternalId: "
	codeResourceExhausted  = "ResourceExhausted: "
	codeStoreFailure       = "StoreFailure: "
	codeTimeout            = "Timeout: "
)

// NewErrInvalidPolicy reports a policy document that failed validation or
// compilation (malformed DSL tree, unknown operator, arity violation, ...).
func NewErrInvalidPolicy(message string) error {
	return errors.New(codeInvalidPolicy + message)
}

// NewErrUnknownEntity reports a symbolic name that the Name->ID cache could
// not resolve within a realm.
func NewErrUnknownEntity(message string) error {
	return errors.New(codeUnknownEntity + message)
}

// NewErrAmbiguousExternalID reports a symbolic name that resolved to more
// than one internal ID within a realm.
func NewErrAmbiguousExternalID(message string) error {
	return errors.New(codeAmbiguousExternal + message)
}

// NewErrResourceExhausted reports a bounded resource (rule count, cache
// capacity, connection pool) that has hit its configured limit.
func NewErrResourceExhausted(message string) error {
	return errors.New(codeResourceExhausted + message)
}

// NewErrStoreFailure reports a failure to read or write the rule store.
func NewErrStoreFailure(message string) error {
	return errors.New(codeStoreFailure + message)
}

// NewErrTimeout reports an operation that exceeded its deadline.
func NewErrTimeout(message string) error {
	return errors.New(codeTimeout + message)
}

// IsErrInvalidPolicy reports whether err was produced by NewErrInvalidPolicy.
func IsErrInvalidPolicy(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), codeInvalidPolicy)
}

// IsErrUnknownEntity reports whether err was produced by NewErrUnknownEntity.
func IsErrUnknownEntity(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), codeUnknownEntity)
}

// IsErrAmbiguousExternalID reports whether err was produced by NewErrAmbiguousExternalID.
func IsErrAmbiguousExternalID(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), codeAmbiguousExternal)
}

// IsErrResourceExhausted reports whether err was produced by NewErrResourceExhausted.
func IsErrResourceExhausted(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), codeResourceExhausted)
}

// IsErrStoreFailure reports whether err was produced by NewErrStoreFailure.
func IsErrStoreFailure(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), codeStoreFailure)
}

// IsErrTimeout reports whether err was produced by NewErrTimeout.
func IsErrTimeout(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), codeTimeout)
}
