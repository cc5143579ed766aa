package session

import (
	"context"
	"fmt"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sgallard/parley/internal/models"
	"github.com/sgallard/parley/internal/timeline"
)

func timelineIDs(store *timeline.Store) []string {
	messages := store.Messages()
	out := make([]string, len(messages))
	for i, msg := range messages {
		out[i] = msg.ID
	}
	return out
}

func TestReconcilerTickWithCursor(t *testing.T) {
	backend := newFakeBackend()
	backend.addItems("conv_1",
		userItem("m1", "hi"),
		assistantItem("m2", "hello"),
		userItem("m3", "more"),
		assistantItem("m4", "sure"),
	)

	store := timeline.NewStore()
	store.MergeBatch([]*models.Message{
		models.NewTextMessage("m1", schema.User, "hi", 0),
		models.NewTextMessage("m2", schema.Assistant, "hello", 0),
	}, timeline.OrderOldestFirst)
	store.SetLastSeenID("m2")

	notified := 0
	r := &Reconciler{
		Backend:        backend,
		Store:          store,
		ConversationID: "conv_1",
		Limit:          20,
		Notify:         func() { notified++ },
	}
	require.NoError(t, r.Tick(context.Background()))

	calls := backend.listParams()
	require.Len(t, calls, 1)
	assert.Equal(t, "m2", calls[0].After)
	assert.Equal(t, "asc", calls[0].Order)
	assert.Equal(t, 20, calls[0].Limit)

	assert.Equal(t, []string{"m1", "m2", "m3", "m4"}, timelineIDs(store))
	assert.Equal(t, "m4", store.LastSeenID())
	assert.Equal(t, 1, notified)

	// Nothing new: no merge, no notification, cursor stays.
	require.NoError(t, r.Tick(context.Background()))
	assert.Equal(t, 4, store.Len())
	assert.Equal(t, "m4", store.LastSeenID())
	assert.Equal(t, 1, notified)
}

func TestReconcilerTickWithoutCursor(t *testing.T) {
	backend := newFakeBackend()
	backend.addItems("conv_1",
		userItem("m1", "hi"),
		assistantItem("m2", "hello"),
	)

	store := timeline.NewStore()
	r := &Reconciler{Backend: backend, Store: store, ConversationID: "conv_1"}
	require.NoError(t, r.Tick(context.Background()))

	calls := backend.listParams()
	require.Len(t, calls, 1)
	assert.Empty(t, calls[0].After)
	assert.Empty(t, calls[0].Order)

	assert.Equal(t, []string{"m1", "m2"}, timelineIDs(store))
	assert.Equal(t, "m2", store.LastSeenID())
}

func TestReconcilerSkipsStreamedItem(t *testing.T) {
	backend := newFakeBackend()
	backend.addItems("conv_1",
		userItem("m1", "hi"),
		assistantItem("m2", "the full final text"),
	)

	store := timeline.NewStore()
	store.Append(models.NewTextMessage("m1", schema.User, "hi", 0))
	store.SetLastSeenID("m1")
	store.UpsertByServerID("m2", timeline.Patch{
		Role:   schema.Assistant,
		Parts:  []models.ContentPart{{Type: models.ContentPartTypeText, Text: "the fu"}},
		Status: models.MessageStatusStreaming,
	})

	r := &Reconciler{
		Backend:        backend,
		Store:          store,
		ConversationID: "conv_1",
		Owns:           func(id string) bool { return id == "m2" },
	}
	require.NoError(t, r.Tick(context.Background()))

	// The snapshot must not clobber the live streaming state.
	msg, _ := store.Get("m2")
	assert.Equal(t, "the fu", msg.Text())
	assert.Equal(t, models.MessageStatusStreaming, msg.Status)
}

func TestReconcilerInProgressItemDoesNotAnchorCursor(t *testing.T) {
	backend := newFakeBackend()
	backend.addItems("conv_1",
		userItem("m1", "hi"),
		inProgressItem("m2", "typing"),
	)

	store := timeline.NewStore()
	settled := false
	r := &Reconciler{
		Backend:            backend,
		Store:              store,
		ConversationID:     "conv_1",
		OnAssistantSettled: func() { settled = true },
	}
	require.NoError(t, r.Tick(context.Background()))

	// The unfinished reply is rendered but must not become the cursor: the
	// next tick refetches it until it settles.
	assert.Equal(t, []string{"m1", "m2"}, timelineIDs(store))
	msg, _ := store.Get("m2")
	assert.Equal(t, models.MessageStatusStreaming, msg.Status)
	assert.Equal(t, "m1", store.LastSeenID())
	assert.False(t, settled)
}

func TestReconcilerFirstPassAppendsToNonEmptyTimeline(t *testing.T) {
	backend := newFakeBackend()
	backend.addItems("conv_1",
		inProgressItem("m1", "typing"),
		userItem("m2", "from another device"),
	)

	// The initial load brought only an unfinished reply, so no cursor was
	// seeded.
	store := timeline.NewStore()
	store.UpsertByServerID("m1", timeline.Patch{
		Role:   schema.Assistant,
		Parts:  []models.ContentPart{{Type: models.ContentPartTypeText, Text: "typing"}},
		Status: models.MessageStatusStreaming,
	})

	r := &Reconciler{Backend: backend, Store: store, ConversationID: "conv_1"}
	require.NoError(t, r.Tick(context.Background()))

	// The new item is newer than everything loaded: it must land at the
	// newest end, not before the unfinished reply.
	assert.Equal(t, []string{"m1", "m2"}, timelineIDs(store))
	assert.Equal(t, "m2", store.LastSeenID())
}

func TestReconcilerFiresOnAssistantSettled(t *testing.T) {
	backend := newFakeBackend()
	backend.addItems("conv_1", assistantItem("m1", "done elsewhere"))

	settled := false
	r := &Reconciler{
		Backend:            backend,
		Store:              timeline.NewStore(),
		ConversationID:     "conv_1",
		OnAssistantSettled: func() { settled = true },
	}
	require.NoError(t, r.Tick(context.Background()))
	assert.True(t, settled)
}

func TestReconcilerReconcilesLocalEcho(t *testing.T) {
	localID := "local_abc"

	serverCopy := userItem("m1", "hi")
	serverCopy.Metadata = map[string]string{"internal_message_id": localID}

	backend := newFakeBackend()
	backend.addItems("conv_1", serverCopy, assistantItem("m2", "hello"))

	store := timeline.NewStore()
	store.Append(models.NewTextMessage(localID, schema.User, "hi", 0))
	store.SetLastSeenID(localID)

	r := &Reconciler{Backend: backend, Store: store, ConversationID: "conv_1"}
	require.NoError(t, r.Tick(context.Background()))

	// The optimistic entry is renamed to its server id, not duplicated.
	assert.Equal(t, []string{"m1", "m2"}, timelineIDs(store))
	assert.Equal(t, "m2", store.LastSeenID())
}

func TestReconcilerTickError(t *testing.T) {
	backend := newFakeBackend()
	backend.listErr = fmt.Errorf("gateway timeout")

	store := timeline.NewStore()
	r := &Reconciler{Backend: backend, Store: store, ConversationID: "conv_1"}

	require.Error(t, r.Tick(context.Background()))
	assert.Zero(t, store.Len())
}
