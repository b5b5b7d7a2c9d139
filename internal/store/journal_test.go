package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func entry(realmID, filePath string, version int) Entry {
	text := "hello"
	return Entry{
		ID:       uuid.NewString(),
		TxID:     uuid.NewString(),
		RealmID:  realmID,
		FilePath: filePath,
		Selector: "div.card",
		Version:  version,
		Styles:   map[string]string{"color": "red"},
		Text:     &text,
	}
}

func TestAppendAndReadBack(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	e := entry("src/App.tsx#App#div[0]#abc123def456", "src/App.tsx", 2)
	require.NoError(t, j.Append(ctx, e))

	got, err := j.ForRealm(ctx, e.RealmID, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)

	assert.Equal(t, e.ID, got[0].ID)
	assert.Equal(t, e.TxID, got[0].TxID)
	assert.Equal(t, 2, got[0].Version)
	assert.Equal(t, map[string]string{"color": "red"}, got[0].Styles)
	require.NotNil(t, got[0].Text)
	assert.Equal(t, "hello", *got[0].Text)
	assert.Nil(t, got[0].ClassName)
	assert.False(t, got[0].CreatedAt.IsZero())
}

func TestForFileAndRecentOrdering(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Minute)
	for i := 1; i <= 3; i++ {
		e := entry("realm-a", "src/App.tsx", i)
		e.CreatedAt = base.Add(time.Duration(i) * time.Second)
		require.NoError(t, j.Append(ctx, e))
	}
	other := entry("realm-b", "src/Other.tsx", 1)
	other.CreatedAt = base.Add(10 * time.Second)
	require.NoError(t, j.Append(ctx, other))

	byFile, err := j.ForFile(ctx, "src/App.tsx", 10)
	require.NoError(t, err)
	require.Len(t, byFile, 3)
	assert.Equal(t, 3, byFile[0].Version, "newest first")
	assert.Equal(t, 1, byFile[2].Version)

	recent, err := j.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "realm-b", recent[0].RealmID)
}

func TestLimitApplies(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, j.Append(ctx, entry("realm-a", "src/App.tsx", i)))
	}

	got, err := j.ForRealm(ctx, "realm-a", 3)
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestEmptyJournal(t *testing.T) {
	j := openTestJournal(t)

	got, err := j.Recent(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}
