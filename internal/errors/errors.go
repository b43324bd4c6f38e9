// Package errors classifies failures into codes, severities and the
// message a user sees, and carries the retry and circuit breaker helpers
// built on that classification.
package errors

import (
	"errors"

	"github.com/Proton-105/earnyha-bot/internal/ledger"
	"github.com/Proton-105/earnyha-bot/internal/state"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Codes of errors raised outside the ledger.
const (
	CodeTelegram             = "E300"
	CodeRecipientUnreachable = "E310"
	CodeStateConflict        = "E400"
	CodeStateBusy            = "E401"
	CodeInternal             = "E999"
)

const defaultUserMessage = "Something went wrong. Please try again later."

// AppError is a classified error. Message is for logs, UserMessage is
// safe to send to the user.
type AppError struct {
	Code        string
	Message     string
	UserMessage string
	Severity    Severity
	Retryable   bool
	cause       error
}

func (e *AppError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// NewExternalAPIError wraps a failed call to api that may work later.
func NewExternalAPIError(api string, cause error) *AppError {
	return &AppError{
		Code:        CodeTelegram,
		Message:     api + " request failed: " + errText(cause),
		UserMessage: "The service is temporarily unavailable.",
		Severity:    SeverityMedium,
		Retryable:   true,
		cause:       cause,
	}
}

// NewRecipientError wraps a delivery that failed because of the
// recipient, for example a user who blocked the bot. Repeating it is
// pointless.
func NewRecipientError(cause error) *AppError {
	return &AppError{
		Code:        CodeRecipientUnreachable,
		Message:     "recipient unreachable: " + errText(cause),
		UserMessage: defaultUserMessage,
		Severity:    SeverityLow,
		cause:       cause,
	}
}

// HasCode reports whether err wraps an AppError with code.
func HasCode(err error, code string) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr != nil && appErr.Code == code
}

type mapping struct {
	target      error
	code        string
	userMessage string
	severity    Severity
	retryable   bool
}

// ledgerErrors maps ledger error kinds to application errors. Storage
// failures are the only retryable kind.
var ledgerErrors = []mapping{
	{ledger.ErrAlreadyExists, "E601", "You are already registered.", SeverityLow, false},
	{ledger.ErrInvalidReferral, "E602", "That referral code is not valid.", SeverityLow, false},
	{ledger.ErrBelowMinimum, "E603", "The amount is below the minimum withdrawal.", SeverityLow, false},
	{ledger.ErrInsufficientBalance, "E604", "Your balance is too low for this withdrawal.", SeverityLow, false},
	{ledger.ErrInvalidAmount, "E605", "Please enter a valid amount, for example 50 or 50.25.", SeverityLow, false},
	{ledger.ErrInvalidArgument, "E606", "Some of the details are missing or too long.", SeverityLow, false},
	{ledger.ErrNotFound, "E607", "Not found. Send /start to register.", SeverityLow, false},
	{ledger.ErrInvalidTransition, "E608", "That withdrawal can no longer be changed.", SeverityMedium, false},
	{ledger.ErrUserInactive, "E610", "Your account is deactivated. Please contact support.", SeverityLow, false},
	{ledger.ErrStorageFailure, "E609", "Temporary problem, please try again later.", SeverityHigh, true},
}

// stateErrors cover the conversation state machine.
var stateErrors = []mapping{
	{state.ErrInvalidTransition, CodeStateConflict, "This action is not available right now. Send /cancel to start over.", SeverityMedium, false},
	{state.ErrStateLocked, CodeStateBusy, "Still working on your previous message, please try again.", SeverityLow, true},
}

func lookup(err error, table []mapping) *AppError {
	for _, m := range table {
		if errors.Is(err, m.target) {
			return &AppError{
				Code:        m.code,
				Message:     err.Error(),
				UserMessage: m.userMessage,
				Severity:    m.severity,
				Retryable:   m.retryable,
				cause:       err,
			}
		}
	}
	return nil
}

// FromLedger converts a ledger error into an AppError. It returns nil for
// nil and for errors the ledger did not produce.
func FromLedger(err error) *AppError {
	if err == nil {
		return nil
	}
	return lookup(err, ledgerErrors)
}

// Classify returns the AppError describing err: err itself when it wraps
// one, the ledger or state machine mapping, or a non-retryable internal
// error. It returns nil only for nil.
func Classify(err error) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) && appErr != nil {
		return appErr
	}
	if appErr = FromLedger(err); appErr != nil {
		return appErr
	}
	if appErr = lookup(err, stateErrors); appErr != nil {
		return appErr
	}
	return &AppError{
		Code:        CodeInternal,
		Message:     err.Error(),
		UserMessage: defaultUserMessage,
		Severity:    SeverityHigh,
		cause:       err,
	}
}

func errText(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}
