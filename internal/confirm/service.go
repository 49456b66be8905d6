package confirm

import (
	"strings"

	"confirm-gate/internal/account"
)

// Service runs the request -> confirm -> verify flow over the token store
// and the PIN vault. Rate limiting sits in front of it as middleware.
type Service struct {
	store   *Store
	vault   *account.Vault
	baseURL string
}

func NewService(store *Store, vault *account.Vault, baseURL string) *Service {
	return &Service{
		store:   store,
		vault:   vault,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// Request creates a pending token. No authentication: agents are trusted to
// rate-limit themselves, and a pending token grants nothing by itself.
func (s *Service) Request(action, details string) (Receipt, error) {
	t, err := s.store.Create(action, details)
	if err != nil {
		return Receipt{}, err
	}

	return Receipt{
		Token:     t.ID,
		URL:       s.baseURL + "/confirm/" + t.ID,
		ExpiresIn: int64(t.ExpiresAt.Sub(t.CreatedAt).Seconds()),
	}, nil
}

// Describe returns what the confirm page shows for a pending token. When the
// vault has never been set up the token is still validated first, then
// account.ErrSetupRequired tells the caller to redirect to setup.
func (s *Service) Describe(id string) (Info, error) {
	t, err := s.store.Get(id)
	if err != nil {
		return Info{}, err
	}
	if !s.vault.SetupDone() {
		return Info{}, account.ErrSetupRequired
	}

	return Info{
		Action:      t.Action,
		Details:     t.Details,
		ExpiresAt:   t.ExpiresAt,
		PINRequired: s.vault.PINRequired(),
	}, nil
}

// Confirm checks the token, then the PIN, then transitions. A wrong PIN
// leaves the token untouched.
func (s *Service) Confirm(id, pin string) (string, error) {
	if _, err := s.store.Get(id); err != nil {
		return "", err
	}
	if err := s.vault.VerifyPIN(pin); err != nil {
		return "", err
	}

	return s.store.Confirm(id)
}

// Verify exchanges a relayed code for the confirmed action. With a token
// identifier the lookup is exact; the bare-code path is a legacy concession
// that is ambiguous under code collision.
func (s *Service) Verify(code, tokenID string) (Token, error) {
	if strings.TrimSpace(code) == "" {
		return Token{}, ErrCodeRequired
	}

	if tokenID != "" {
		return s.store.UseByID(tokenID, code)
	}
	return s.store.UseByCode(code)
}
