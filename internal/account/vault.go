package account

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/pbkdf2"

	"confirm-gate/internal/observability"
	"confirm-gate/internal/persist"
)

// PBKDF2-SHA256 parameters. The iteration count is the documented work
// factor for PIN hashing and must not be lowered for stored hashes to keep
// verifying.
const (
	pbkdf2Iterations = 100_000
	saltLength       = 16
	keyLength        = 32
)

var emailRegex = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// Vault owns the account config: the PIN credential and outstanding
// PIN-reset tokens. Mutations persist through the snapshot store before the
// lock is released.
type Vault struct {
	mu        sync.Mutex
	cfg       Config
	snapshots persist.Store
	logger    *observability.Logger
	resetTTL  time.Duration
	minPINLen int
	now       func() time.Time
}

func NewVault(snapshots persist.Store, logger *observability.Logger, resetTTL time.Duration, minPINLen int) *Vault {
	if resetTTL <= 0 {
		resetTTL = 15 * time.Minute
	}
	if minPINLen <= 0 {
		minPINLen = 4
	}

	v := &Vault{
		snapshots: snapshots,
		logger:    logger,
		resetTTL:  resetTTL,
		minPINLen: minPINLen,
		now:       time.Now,
	}
	v.load()

	return v
}

// WithClock replaces the vault's time source. Test hook.
func (v *Vault) WithClock(now func() time.Time) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.now = now
}

func (v *Vault) load() {
	var cfg Config
	if _, err := v.snapshots.Load(persist.DocAccount, &cfg); err != nil {
		v.logger.Warn("account_snapshot_load_failed", map[string]any{"error": err.Error()})
		cfg = Config{}
	}
	if cfg.ResetTokens == nil {
		cfg.ResetTokens = make(map[string]ResetToken)
	}

	v.mu.Lock()
	v.cfg = cfg
	v.mu.Unlock()
}

// Setup records the PIN and recovery email. One-shot: once complete, the
// credential only changes through the reset flow.
func (v *Vault) Setup(pin, email string) error {
	pin = strings.TrimSpace(pin)
	email = strings.TrimSpace(strings.ToLower(email))

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.cfg.SetupComplete {
		return ErrAlreadySetup
	}
	if len(pin) < v.minPINLen {
		return ErrPINTooShort
	}
	if !emailRegex.MatchString(email) {
		return ErrEmailInvalid
	}

	hash, salt, err := derivePIN(pin)
	if err != nil {
		return err
	}

	prev := v.cfg
	v.cfg.SetupComplete = true
	v.cfg.PINHash = hash
	v.cfg.PINSalt = salt
	v.cfg.Email = email
	if err := v.persistLocked(); err != nil {
		v.cfg = prev
		return err
	}

	return nil
}

// SeedPIN applies a PIN supplied via configuration (CONFIRM_PIN) without
// persisting it: the environment remains the source of truth, and no
// recovery email is attached.
func (v *Vault) SeedPIN(pin string) error {
	pin = strings.TrimSpace(pin)
	if len(pin) < v.minPINLen {
		return ErrPINTooShort
	}

	hash, salt, err := derivePIN(pin)
	if err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	v.cfg.SetupComplete = true
	v.cfg.PINHash = hash
	v.cfg.PINSalt = salt

	return nil
}

func (v *Vault) SetupDone() bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	return v.cfg.SetupComplete
}

func (v *Vault) PINRequired() bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	return v.cfg.PINHash != ""
}

func (v *Vault) Email() string {
	v.mu.Lock()
	defer v.mu.Unlock()

	return v.cfg.Email
}

// VerifyPIN re-derives the hash and compares. With no PIN configured the
// gate is open and any input passes.
func (v *Vault) VerifyPIN(pin string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.cfg.PINHash == "" {
		return nil
	}

	salt, err := hex.DecodeString(v.cfg.PINSalt)
	if err != nil {
		return fmt.Errorf("decode pin salt: %w", err)
	}

	derived := pbkdf2.Key([]byte(strings.TrimSpace(pin)), salt, pbkdf2Iterations, keyLength, sha256.New)
	if subtle.ConstantTimeCompare([]byte(hex.EncodeToString(derived)), []byte(v.cfg.PINHash)) != 1 {
		return ErrPINMismatch
	}

	return nil
}

// IssueReset creates a single-use reset token with its own short TTL.
// Requires completed setup and a recovery email on file.
func (v *Vault) IssueReset() (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.cfg.SetupComplete {
		return "", ErrSetupRequired
	}
	if v.cfg.Email == "" {
		return "", ErrNoEmail
	}

	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate reset token id: %w", err)
	}

	resetID := id.String()
	v.cfg.ResetTokens[resetID] = ResetToken{ExpiresAt: v.now().UTC().Add(v.resetTTL)}
	if err := v.persistLocked(); err != nil {
		delete(v.cfg.ResetTokens, resetID)
		return "", err
	}

	return resetID, nil
}

// CheckReset reports whether a reset token is still honored.
func (v *Vault) CheckReset(id string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	entry, ok := v.cfg.ResetTokens[id]
	if !ok || v.now().UTC().After(entry.ExpiresAt) {
		return ErrResetInvalid
	}

	return nil
}

// ConsumeReset replaces the PIN credential and removes the reset token in
// one step; the token cannot be used again.
func (v *Vault) ConsumeReset(id, newPIN string) error {
	newPIN = strings.TrimSpace(newPIN)

	v.mu.Lock()
	defer v.mu.Unlock()

	entry, ok := v.cfg.ResetTokens[id]
	if !ok || v.now().UTC().After(entry.ExpiresAt) {
		return ErrResetInvalid
	}
	if len(newPIN) < v.minPINLen {
		return ErrPINTooShort
	}

	hash, salt, err := derivePIN(newPIN)
	if err != nil {
		return err
	}

	prev := v.cfg
	prevEntry := entry
	v.cfg.PINHash = hash
	v.cfg.PINSalt = salt
	delete(v.cfg.ResetTokens, id)
	if err := v.persistLocked(); err != nil {
		v.cfg.PINHash = prev.PINHash
		v.cfg.PINSalt = prev.PINSalt
		v.cfg.ResetTokens[id] = prevEntry
		return err
	}

	return nil
}

// PruneResets drops expired reset tokens. Persists only when something was
// removed.
func (v *Vault) PruneResets() (int, error) {
	now := v.nowUTC()

	v.mu.Lock()
	defer v.mu.Unlock()

	removed := 0
	for id, entry := range v.cfg.ResetTokens {
		if now.After(entry.ExpiresAt) {
			delete(v.cfg.ResetTokens, id)
			removed++
		}
	}
	if removed == 0 {
		return 0, nil
	}

	if err := v.persistLocked(); err != nil {
		return removed, err
	}

	return removed, nil
}

func (v *Vault) persistLocked() error {
	if err := v.snapshots.Save(persist.DocAccount, v.cfg); err != nil {
		return fmt.Errorf("persist account config: %w", err)
	}
	return nil
}

func (v *Vault) nowUTC() time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()

	return v.now().UTC()
}

func derivePIN(pin string) (hash, salt string, err error) {
	rawSalt := make([]byte, saltLength)
	if _, err := rand.Read(rawSalt); err != nil {
		return "", "", fmt.Errorf("generate pin salt: %w", err)
	}

	key := pbkdf2.Key([]byte(pin), rawSalt, pbkdf2Iterations, keyLength, sha256.New)

	return hex.EncodeToString(key), hex.EncodeToString(rawSalt), nil
}
