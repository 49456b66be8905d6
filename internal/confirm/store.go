package confirm

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"confirm-gate/internal/observability"
	"confirm-gate/internal/persist"
)

// Store owns the token map. Every mutation is flushed through the snapshot
// store before the lock is released, so a persisted snapshot always reflects
// a complete transition.
type Store struct {
	mu        sync.Mutex
	tokens    map[string]*Token
	snapshots persist.Store
	logger    *observability.Logger
	ttl       time.Duration
	grace     time.Duration
	now       func() time.Time
}

func NewStore(snapshots persist.Store, logger *observability.Logger, ttl, grace time.Duration) *Store {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if grace < 0 {
		grace = 0
	}

	s := &Store{
		snapshots: snapshots,
		logger:    logger,
		ttl:       ttl,
		grace:     grace,
		now:       time.Now,
	}
	s.load()

	return s
}

// WithClock replaces the store's time source. Test hook.
func (s *Store) WithClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.now = now
}

func (s *Store) load() {
	tokens := make(map[string]*Token)
	found, err := s.snapshots.Load(persist.DocTokens, &tokens)
	if err != nil {
		// Durability loses to availability here: a snapshot that cannot be
		// decoded is abandoned and the service starts empty.
		s.logger.Warn("token_snapshot_load_failed", map[string]any{"error": err.Error()})
		tokens = make(map[string]*Token)
	}
	for id, t := range tokens {
		t.ID = id
	}

	s.mu.Lock()
	s.tokens = tokens
	s.mu.Unlock()

	if found && err == nil {
		s.logger.Info("token_snapshot_loaded", map[string]any{"tokens": len(tokens)})
	}
}

func (s *Store) Create(action, details string) (Token, error) {
	action = strings.TrimSpace(action)
	if action == "" {
		return Token{}, ErrActionRequired
	}

	id, err := newTokenID()
	if err != nil {
		return Token{}, err
	}

	now := s.nowUTC()
	t := &Token{
		ID:        id,
		Action:    action,
		Details:   details,
		Status:    StatusPending,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.tokens[id] = t
	if err := s.persistLocked(); err != nil {
		delete(s.tokens, id)
		return Token{}, err
	}

	return *t, nil
}

// Get returns a token that is still awaiting confirmation. Expiry is checked
// before status so an expired pending token reports expired, not used.
func (s *Store) Get(id string) (Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tokens[id]
	if !ok {
		return Token{}, ErrTokenNotFound
	}
	if t.ExpiredAt(s.now().UTC()) {
		return Token{}, ErrTokenExpired
	}
	if t.Status != StatusPending {
		return Token{}, ErrAlreadyUsed
	}

	return *t, nil
}

// Confirm moves a pending token to confirmed and attaches a fresh code.
// A code colliding with another confirmed token is not an error here;
// verification disambiguates by identifier.
func (s *Store) Confirm(id string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tokens[id]
	if !ok {
		return "", ErrTokenNotFound
	}
	if t.ExpiredAt(s.now().UTC()) {
		return "", ErrTokenExpired
	}
	if t.Status != StatusPending {
		return "", ErrAlreadyUsed
	}

	code, err := GenerateCode()
	if err != nil {
		return "", err
	}

	t.Status = StatusConfirmed
	t.Code = code
	if err := s.persistLocked(); err != nil {
		t.Status = StatusPending
		t.Code = ""
		return "", err
	}

	return code, nil
}

// UseByID consumes a confirmed token looked up by identifier. The relayed
// code must match the one attached at confirmation; this is the
// collision-proof verification path.
func (s *Store) UseByID(id, code string) (Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tokens[id]
	if !ok {
		return Token{}, ErrTokenNotFound
	}
	if t.ExpiredAt(s.now().UTC()) {
		return Token{}, ErrTokenExpired
	}
	switch t.Status {
	case StatusPending:
		return Token{}, ErrNotConfirmed
	case StatusUsed:
		return Token{}, ErrAlreadyUsed
	}
	if NormalizeCode(code) != t.Code {
		return Token{}, ErrCodeInvalid
	}

	return s.useLocked(t)
}

// UseByCode consumes the first confirmed token whose code matches. Under a
// code collision this pick is ambiguous; the path is kept for integrations
// that cannot supply the token identifier.
func (s *Store) UseByCode(code string) (Token, error) {
	normalized := NormalizeCode(code)

	s.mu.Lock()
	defer s.mu.Unlock()

	var match *Token
	for _, t := range s.tokens {
		if t.Status == StatusConfirmed && t.Code == normalized {
			match = t
			break
		}
	}
	if match == nil {
		return Token{}, ErrCodeInvalid
	}
	if match.ExpiredAt(s.now().UTC()) {
		return Token{}, ErrTokenExpired
	}

	return s.useLocked(match)
}

func (s *Store) useLocked(t *Token) (Token, error) {
	t.Status = StatusUsed
	if err := s.persistLocked(); err != nil {
		t.Status = StatusConfirmed
		return Token{}, err
	}

	return *t, nil
}

// Prune removes tokens whose expiry passed more than the grace window ago,
// whatever their status. Persists only when something was removed.
func (s *Store) Prune() (int, error) {
	cutoff := s.nowUTC().Add(-s.grace)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, t := range s.tokens {
		if t.ExpiresAt.Before(cutoff) {
			delete(s.tokens, id)
			removed++
		}
	}
	if removed == 0 {
		return 0, nil
	}

	if err := s.persistLocked(); err != nil {
		return removed, err
	}

	return removed, nil
}

func (s *Store) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.tokens)
}

func (s *Store) persistLocked() error {
	if err := s.snapshots.Save(persist.DocTokens, s.tokens); err != nil {
		return fmt.Errorf("persist tokens: %w", err)
	}
	return nil
}

func (s *Store) nowUTC() time.Time {
	return s.now().UTC()
}

func newTokenID() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token id: %w", err)
	}
	return hex.EncodeToString(b), nil
}
