package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenPath(filepath.Join(t.TempDir(), "parley.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestUpsertAndListConversations(t *testing.T) {
	db := newTestDB(t)

	require.NoError(t, db.UpsertConversation("conv_1", "First"))
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, db.UpsertConversation("conv_2", "Second"))

	records, err := db.ListConversations()
	require.NoError(t, err)
	require.Len(t, records, 2)

	// Most recently touched first.
	assert.Equal(t, "conv_2", records[0].ID)
	assert.Equal(t, "Second", records[0].Title)
	assert.Equal(t, "conv_1", records[1].ID)

	// Touching conv_1 moves it to the top.
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, db.UpsertConversation("conv_1", "First"))
	records, err = db.ListConversations()
	require.NoError(t, err)
	assert.Equal(t, "conv_1", records[0].ID)
}

func TestUpsertPreservesCreatedAt(t *testing.T) {
	db := newTestDB(t)

	require.NoError(t, db.UpsertConversation("conv_1", "Original"))
	records, err := db.ListConversations()
	require.NoError(t, err)
	created := records[0].CreatedAt
	require.NotZero(t, created)

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, db.UpsertConversation("conv_1", "Renamed"))

	records, err = db.ListConversations()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Renamed", records[0].Title)
	assert.Equal(t, created, records[0].CreatedAt)
	assert.Greater(t, records[0].UpdatedAt, created)
}

func TestUpsertRequiresID(t *testing.T) {
	db := newTestDB(t)
	assert.Error(t, db.UpsertConversation("", "title"))
}

func TestDeleteConversation(t *testing.T) {
	db := newTestDB(t)

	require.NoError(t, db.UpsertConversation("conv_1", "First"))
	require.NoError(t, db.DeleteConversation("conv_1"))

	records, err := db.ListConversations()
	require.NoError(t, err)
	assert.Empty(t, records)

	// Deleting an unknown id is not an error.
	require.NoError(t, db.DeleteConversation("conv_missing"))
}

func TestLastOpen(t *testing.T) {
	db := newTestDB(t)

	id, err := db.LastOpen()
	require.NoError(t, err)
	assert.Empty(t, id)

	require.NoError(t, db.SetLastOpen("conv_1"))
	id, err = db.LastOpen()
	require.NoError(t, err)
	assert.Equal(t, "conv_1", id)
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "parley.db")

	db, err := OpenPath(path)
	require.NoError(t, err)
	require.NoError(t, db.UpsertConversation("conv_1", "First"))
	require.NoError(t, db.Close())

	db, err = OpenPath(path)
	require.NoError(t, err)
	defer db.Close()

	records, err := db.ListConversations()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "First", records[0].Title)
}
