package confirm

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"confirm-gate/internal/observability"
	"confirm-gate/internal/persist"
)

func newTestStore(t *testing.T) (*Store, *persist.MemoryStore, *time.Time) {
	t.Helper()

	snapshots := persist.NewMemoryStore()
	store := NewStore(snapshots, observability.NewLogger(), 5*time.Minute, time.Minute)

	current := time.Now().UTC()
	store.WithClock(func() time.Time { return current })

	return store, snapshots, &current
}

func TestCreateStartsPendingWithoutCode(t *testing.T) {
	store, _, _ := newTestStore(t)

	token, err := store.Create("delete-database", "prod cluster")
	require.NoError(t, err)

	assert.Len(t, token.ID, 32, "identifier is 16 random bytes hex")
	assert.Equal(t, StatusPending, token.Status)
	assert.Empty(t, token.Code)
	assert.Equal(t, token.CreatedAt.Add(5*time.Minute), token.ExpiresAt)
}

func TestCreateRequiresAction(t *testing.T) {
	store, _, _ := newTestStore(t)

	_, err := store.Create("  ", "details")
	assert.ErrorIs(t, err, ErrActionRequired)
}

func TestConfirmAttachesCodeOnce(t *testing.T) {
	store, _, _ := newTestStore(t)

	token, err := store.Create("restart", "")
	require.NoError(t, err)

	code, err := store.Confirm(token.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, code)

	_, err = store.Confirm(token.ID)
	assert.ErrorIs(t, err, ErrAlreadyUsed)
}

func TestExpiryCheckedBeforeStatus(t *testing.T) {
	store, _, current := newTestStore(t)

	token, err := store.Create("restart", "")
	require.NoError(t, err)

	*current = current.Add(6 * time.Minute)

	_, err = store.Confirm(token.ID)
	assert.ErrorIs(t, err, ErrTokenExpired, "expired pending token reports expired, not conflict")

	_, err = store.Get(token.ID)
	assert.ErrorIs(t, err, ErrTokenExpired)

	_, err = store.UseByID(token.ID, "ALPHA-1000-ZULU")
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestConfirmedTokenExpires(t *testing.T) {
	store, _, current := newTestStore(t)

	token, err := store.Create("restart", "")
	require.NoError(t, err)
	code, err := store.Confirm(token.ID)
	require.NoError(t, err)

	*current = current.Add(6 * time.Minute)

	_, err = store.UseByCode(code)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestUseByCodeRoundTrip(t *testing.T) {
	store, _, _ := newTestStore(t)

	token, err := store.Create("delete-database", "prod cluster")
	require.NoError(t, err)
	code, err := store.Confirm(token.ID)
	require.NoError(t, err)

	used, err := store.UseByCode("  " + code + " ")
	require.NoError(t, err)
	assert.Equal(t, "delete-database", used.Action)
	assert.Equal(t, "prod cluster", used.Details)
	assert.Equal(t, StatusUsed, used.Status)

	_, err = store.UseByCode(code)
	assert.ErrorIs(t, err, ErrCodeInvalid, "a code is only valid while its token is confirmed")
}

func TestUseByCodeIgnoresPendingTokens(t *testing.T) {
	store, _, _ := newTestStore(t)

	_, err := store.Create("restart", "")
	require.NoError(t, err)

	_, err = store.UseByCode("ALPHA-1000-ZULU")
	assert.ErrorIs(t, err, ErrCodeInvalid)
}

func TestUseByIDRequiresMatchingCode(t *testing.T) {
	store, _, _ := newTestStore(t)

	token, err := store.Create("restart", "")
	require.NoError(t, err)
	code, err := store.Confirm(token.ID)
	require.NoError(t, err)

	_, err = store.UseByID(token.ID, "BRAVO-9999-KILO")
	if code != "BRAVO-9999-KILO" {
		assert.ErrorIs(t, err, ErrCodeInvalid)
	}

	used, err := store.UseByID(token.ID, code)
	require.NoError(t, err)
	assert.Equal(t, StatusUsed, used.Status)

	_, err = store.UseByID(token.ID, code)
	assert.ErrorIs(t, err, ErrAlreadyUsed)
}

func TestUseByIDOnPendingToken(t *testing.T) {
	store, _, _ := newTestStore(t)

	token, err := store.Create("restart", "")
	require.NoError(t, err)

	_, err = store.UseByID(token.ID, "ALPHA-1000-ZULU")
	assert.ErrorIs(t, err, ErrNotConfirmed)
}

func TestUseByIDDisambiguatesCollidingCodes(t *testing.T) {
	store, _, _ := newTestStore(t)

	first, err := store.Create("restart", "web")
	require.NoError(t, err)
	second, err := store.Create("restart", "db")
	require.NoError(t, err)
	_, err = store.Confirm(first.ID)
	require.NoError(t, err)
	_, err = store.Confirm(second.ID)
	require.NoError(t, err)

	// Force a collision between the two live codes.
	store.mu.Lock()
	store.tokens[first.ID].Code = "ALPHA-4821-ROMEO"
	store.tokens[second.ID].Code = "ALPHA-4821-ROMEO"
	store.mu.Unlock()

	used, err := store.UseByID(second.ID, "ALPHA-4821-ROMEO")
	require.NoError(t, err)
	assert.Equal(t, "db", used.Details)

	used, err = store.UseByID(first.ID, "ALPHA-4821-ROMEO")
	require.NoError(t, err)
	assert.Equal(t, "web", used.Details)
}

func TestPruneHonorsGraceWindow(t *testing.T) {
	store, _, current := newTestStore(t)

	_, err := store.Create("restart", "")
	require.NoError(t, err)

	// Expired but within the grace window: kept.
	*current = current.Add(5*time.Minute + 30*time.Second)
	removed, err := store.Prune()
	require.NoError(t, err)
	assert.Equal(t, 0, removed)
	assert.Equal(t, 1, store.Size())

	// Past expiry plus grace: removed.
	*current = current.Add(2 * time.Minute)
	removed, err = store.Prune()
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 0, store.Size())
}

func TestStoreReloadsFromSnapshot(t *testing.T) {
	snapshots := persist.NewMemoryStore()
	logger := observability.NewLogger()

	store := NewStore(snapshots, logger, 5*time.Minute, time.Minute)
	token, err := store.Create("delete-database", "prod")
	require.NoError(t, err)
	code, err := store.Confirm(token.ID)
	require.NoError(t, err)

	reloaded := NewStore(snapshots, logger, 5*time.Minute, time.Minute)
	used, err := reloaded.UseByID(token.ID, code)
	require.NoError(t, err)
	assert.Equal(t, "delete-database", used.Action)
}

func TestMutationsRollBackWhenPersistFails(t *testing.T) {
	store, snapshots, _ := newTestStore(t)

	token, err := store.Create("restart", "")
	require.NoError(t, err)

	snapshots.SaveErr = errors.New("disk full")

	_, err = store.Create("deploy", "")
	require.Error(t, err)
	assert.Equal(t, 1, store.Size(), "failed create leaves no partial token behind")

	_, err = store.Confirm(token.ID)
	require.Error(t, err)
	got, err := store.Get(token.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
	assert.Empty(t, got.Code)

	snapshots.SaveErr = nil
	code, err := store.Confirm(token.ID)
	require.NoError(t, err)

	snapshots.SaveErr = errors.New("disk full")
	_, err = store.UseByID(token.ID, code)
	require.Error(t, err)

	snapshots.SaveErr = nil
	used, err := store.UseByID(token.ID, code)
	require.NoError(t, err)
	assert.Equal(t, StatusUsed, used.Status)
}

func TestStoreStartsEmptyOnCorruptSnapshot(t *testing.T) {
	snapshots := persist.NewMemoryStore()
	logger := observability.NewLogger()

	store := NewStore(snapshots, logger, 5*time.Minute, time.Minute)
	_, err := store.Create("restart", "")
	require.NoError(t, err)

	snapshots.Corrupt(persist.DocTokens)

	reloaded := NewStore(snapshots, logger, 5*time.Minute, time.Minute)
	assert.Equal(t, 0, reloaded.Size(), "undecodable snapshot falls back to an empty store")
}
