package confirm

import (
	"errors"
	"time"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusUsed      Status = "used"
)

// Token is one confirmation request. ExpiresAt is fixed at creation and
// never changes; Code is set only on the transition to confirmed.
type Token struct {
	ID        string    `json:"id"`
	Action    string    `json:"action"`
	Details   string    `json:"details"`
	Status    Status    `json:"status"`
	Code      string    `json:"code,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (t *Token) ExpiredAt(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

type Receipt struct {
	Token     string `json:"token"`
	URL       string `json:"url"`
	ExpiresIn int64  `json:"expires_in"`
}

type Info struct {
	Action      string    `json:"action"`
	Details     string    `json:"details"`
	ExpiresAt   time.Time `json:"expires_at"`
	PINRequired bool      `json:"pin_required"`
}

var (
	ErrActionRequired = errors.New("action required")
	ErrCodeRequired   = errors.New("code required")
	ErrTokenNotFound  = errors.New("token not found")
	ErrTokenExpired   = errors.New("token expired")
	ErrAlreadyUsed    = errors.New("token already used")
	ErrNotConfirmed   = errors.New("token not confirmed")
	ErrCodeInvalid    = errors.New("invalid or already used code")
)
