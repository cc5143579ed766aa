// Package timeline holds the client-side projection of one conversation:
// an ordered message list written into concurrently by the initial load,
// the live response stream, and the background poller. All mutations are
// idempotent under duplicate delivery.
package timeline

import (
	"sync"

	"github.com/cloudwego/eino/schema"

	"github.com/sgallard/parley/internal/models"
)

// Order describes the relative order of a merge batch as fetched.
type Order string

const (
	// OrderNewestFirst batches (initial load, older-history pages) are
	// reversed to chronological order and prepended as a block.
	OrderNewestFirst Order = "newest_first"
	// OrderOldestFirst batches (poll results) are appended.
	OrderOldestFirst Order = "oldest_first"
)

// Patch is a partial message update. Zero-valued fields are left untouched.
type Patch struct {
	Role      schema.RoleType
	Parts     []models.ContentPart
	Status    models.MessageStatus
	CreatedAt int64
}

// Store keeps messages in chronological order (oldest at index 0) with a
// unique-id index. Local ids renamed to server ids are retired for the
// lifetime of the store: late writes against them are rejected.
type Store struct {
	mu         sync.RWMutex
	messages   []*models.Message
	index      map[string]int
	retired    map[string]struct{}
	lastSeenID string
	oldestID   string
}

func NewStore() *Store {
	return &Store{
		index:   make(map[string]int),
		retired: make(map[string]struct{}),
	}
}

// Append adds a message at the newest end. It is a no-op if the id already
// exists or has been retired, and reports whether the message was added.
func (s *Store) Append(msg *models.Message) bool {
	if msg == nil || msg.ID == "" {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.index[msg.ID]; ok {
		return false
	}
	if _, ok := s.retired[msg.ID]; ok {
		return false
	}

	s.index[msg.ID] = len(s.messages)
	s.messages = append(s.messages, msg.Clone())
	return true
}

// UpsertByServerID merges patch into the message with the given id, or
// appends a new message built from the patch if the id is unknown. Writes
// against retired ids are dropped.
func (s *Store) UpsertByServerID(id string, patch Patch) {
	if id == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.retired[id]; ok {
		return
	}

	if pos, ok := s.index[id]; ok {
		applyPatch(s.messages[pos], patch)
		return
	}

	msg := &models.Message{ID: id}
	applyPatch(msg, patch)
	s.index[id] = len(s.messages)
	s.messages = append(s.messages, msg)
}

// ReconcileLocalToServer renames a message id in place, preserving its
// position and content. The local id is permanently retired. Reports
// whether a rename happened.
func (s *Store) ReconcileLocalToServer(localID, serverID string) bool {
	if localID == "" || serverID == "" || localID == serverID {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	pos, ok := s.index[localID]
	if !ok {
		return false
	}

	// If the server id already landed through another source, drop that
	// duplicate entry and keep the local message's position.
	if dup, ok := s.index[serverID]; ok {
		s.messages = append(s.messages[:dup], s.messages[dup+1:]...)
		s.rebuildIndexLocked()
		pos = s.index[localID]
	}

	s.messages[pos].ID = serverID
	delete(s.index, localID)
	s.index[serverID] = pos
	s.retired[localID] = struct{}{}
	return true
}

// MergeBatch folds a batch of loaded/polled messages into the timeline.
// Items whose id already exists replace that entry's content in place;
// retired ids are dropped. The remainder is inserted according to order.
func (s *Store) MergeBatch(items []*models.Message, order Order) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fresh := make([]*models.Message, 0, len(items))
	for _, item := range items {
		if item == nil || item.ID == "" {
			continue
		}
		if _, ok := s.retired[item.ID]; ok {
			continue
		}
		if pos, ok := s.index[item.ID]; ok {
			clone := item.Clone()
			s.messages[pos] = clone
			continue
		}
		fresh = append(fresh, item.Clone())
	}
	if len(fresh) == 0 {
		return
	}

	switch order {
	case OrderNewestFirst:
		// Reverse to chronological order and prepend as a block.
		for i, j := 0, len(fresh)-1; i < j; i, j = i+1, j-1 {
			fresh[i], fresh[j] = fresh[j], fresh[i]
		}
		s.messages = append(fresh, s.messages...)
		s.rebuildIndexLocked()
	default:
		for _, msg := range fresh {
			s.index[msg.ID] = len(s.messages)
			s.messages = append(s.messages, msg)
		}
	}
}

// Get returns a copy of the message with the given id.
func (s *Store) Get(id string) (*models.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pos, ok := s.index[id]
	if !ok {
		return nil, false
	}
	return s.messages[pos].Clone(), true
}

// Messages returns a copy of the timeline in chronological order.
func (s *Store) Messages() []*models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.Message, len(s.messages))
	for i, msg := range s.messages {
		out[i] = msg.Clone()
	}
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

func (s *Store) LastSeenID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSeenID
}

func (s *Store) SetLastSeenID(id string) {
	if id == "" {
		return
	}
	s.mu.Lock()
	s.lastSeenID = id
	s.mu.Unlock()
}

func (s *Store) OldestID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.oldestID
}

func (s *Store) SetOldestID(id string) {
	if id == "" {
		return
	}
	s.mu.Lock()
	s.oldestID = id
	s.mu.Unlock()
}

// Reset clears the whole timeline, including cursors and retired ids. Used
// when the conversation itself is deleted or switched away from.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages = nil
	s.index = make(map[string]int)
	s.retired = make(map[string]struct{})
	s.lastSeenID = ""
	s.oldestID = ""
}

func (s *Store) rebuildIndexLocked() {
	s.index = make(map[string]int, len(s.messages))
	for i, msg := range s.messages {
		s.index[msg.ID] = i
	}
}

func applyPatch(msg *models.Message, patch Patch) {
	if patch.Role != "" {
		msg.Role = patch.Role
	}
	if patch.Parts != nil {
		msg.Parts = make([]models.ContentPart, len(patch.Parts))
		copy(msg.Parts, patch.Parts)
	}
	if patch.Status != "" {
		msg.Status = patch.Status
	}
	if patch.CreatedAt != 0 {
		msg.CreatedAt = patch.CreatedAt
	}
}
