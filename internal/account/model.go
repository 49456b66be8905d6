package account

import (
	"errors"
	"time"
)

// Config is the singleton account record. It is only ever updated in place:
// setup fills the credential fields once, recovery replaces them.
type Config struct {
	SetupComplete bool                  `json:"setup_complete"`
	PINHash       string                `json:"pin_hash,omitempty"`
	PINSalt       string                `json:"pin_salt,omitempty"`
	Email         string                `json:"email,omitempty"`
	ResetTokens   map[string]ResetToken `json:"reset_tokens,omitempty"`
}

type ResetToken struct {
	ExpiresAt time.Time `json:"expires_at"`
}

var (
	ErrAlreadySetup  = errors.New("setup already complete")
	ErrSetupRequired = errors.New("setup required")
	ErrPINTooShort   = errors.New("pin too short")
	ErrEmailInvalid  = errors.New("invalid email")
	ErrNoEmail       = errors.New("no recovery email configured")
	ErrPINMismatch   = errors.New("pin mismatch")
	ErrResetInvalid  = errors.New("reset token invalid or expired")
)
