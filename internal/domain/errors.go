package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInsufficientFunds = errors.New("Insufficient balance")
	ErrQuotaExceeded     = errors.New("Daily transaction limit exceeded")
	ErrNoConnector       = errors.New("No active payout connector configured")
	ErrDuplicateRequest  = errors.New("RequestId already exists")
)

// AuthReason discriminates credential failures for caller messaging.
type AuthReason int

const (
	AuthInvalidToken AuthReason = iota
	AuthExpiredToken
	AuthNotFound
	AuthSecretMismatch
)

// AuthError is any credential-verification failure; always surfaced as 401.
type AuthError struct {
	Reason AuthReason
	Msg    string
}

func (e *AuthError) Error() string { return e.Msg }

// ValidationError is a failed field check from the payout request validator.
// Msg is a stable, human-readable string clients and tests depend on.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// Gateway protocol stages, in call order.
const (
	StageEncrypt  = "encrypt"
	StageInitiate = "initiate"
	StageDecrypt  = "decrypt"
	StageStatus   = "status"
)

// GatewayError is a typed failure from the remote gateway protocol.
// Description carries the gateway's free-text reason when it provided one.
type GatewayError struct {
	Stage       string
	Description string
}

func (e *GatewayError) Error() string {
	if e.Description != "" {
		return e.Description
	}
	return fmt.Sprintf("payout gateway %s step failed", e.Stage)
}
