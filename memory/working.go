package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/memflow/types"
)

// WorkingStoreConfig configures the working memory store.
type WorkingStoreConfig struct {
	// DefaultTTL is applied when a stored item carries no explicit expiry.
	DefaultTTL time.Duration `json:"default_ttl"`

	// MaxItems bounds the store; 0 disables the bound. When full, the
	// lowest-priority item is evicted to make room.
	MaxItems int `json:"max_items"`

	// Now is injectable for tests. Defaults to time.Now.
	Now func() time.Time `json:"-"`
}

// DefaultWorkingStoreConfig returns sensible defaults.
func DefaultWorkingStoreConfig() WorkingStoreConfig {
	return WorkingStoreConfig{
		DefaultTTL: 30 * time.Minute,
		MaxItems:   1000,
	}
}

// WorkingOptions carries the variant-specific fields for storing a
// working item. Zero-value session fields fall back to the memory context.
type WorkingOptions struct {
	Priority    int               `json:"priority"`
	ContextType types.ContextType `json:"context_type"`
	TTL         time.Duration     `json:"ttl,omitempty"`
	ExpiresAt   time.Time         `json:"expires_at,omitempty"`
	RelatedIDs  []string          `json:"related_ids,omitempty"`
}

// WorkingFilters narrows a working-memory search.
type WorkingFilters struct {
	SessionID      string            `json:"session_id,omitempty"`
	ConversationID string            `json:"conversation_id,omitempty"`
	ContextType    types.ContextType `json:"context_type,omitempty"`
	MaxPriority    int               `json:"max_priority,omitempty"` // 0 = no bound
}

// WorkingPatch is a partial update; nil fields are left untouched.
type WorkingPatch struct {
	Content    *string        `json:"content,omitempty"`
	Priority   *int           `json:"priority,omitempty"`
	TTL        *time.Duration `json:"ttl,omitempty"`
	RelatedIDs []string       `json:"related_ids,omitempty"`
}

// WorkingStore holds transient session context. Items whose expiry has
// passed are treated as absent by every read path and removed by Cleanup.
type WorkingStore struct {
	config WorkingStoreConfig
	items  map[string]*WorkingItem
	order  []string // insertion order, for deterministic tie-breaking
	now    func() time.Time
	logger *zap.Logger
	mu     sync.RWMutex
}

// NewWorkingStore creates a working memory store.
func NewWorkingStore(config WorkingStoreConfig, logger *zap.Logger) *WorkingStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	now := config.Now
	if now == nil {
		now = time.Now
	}
	return &WorkingStore{
		config: config,
		items:  make(map[string]*WorkingItem),
		now:    now,
		logger: logger.With(zap.String("component", "working_store")),
	}
}

// Store validates and saves a new working item, returning its id.
func (s *WorkingStore) Store(ctx context.Context, content string, mctx types.MemoryContext, opts WorkingOptions) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if strings.TrimSpace(content) == "" {
		return "", newValidationError("content", "must not be empty")
	}
	if opts.Priority < 1 || opts.Priority > 5 {
		return "", newValidationError("priority", "must be in 1..5, got %d", opts.Priority)
	}
	if opts.ContextType != "" && !opts.ContextType.Valid() {
		return "", newValidationError("context_type", "unknown context type %q", opts.ContextType)
	}

	now := s.now()
	expires := opts.ExpiresAt
	if expires.IsZero() {
		ttl := opts.TTL
		if ttl <= 0 {
			ttl = s.config.DefaultTTL
		}
		expires = now.Add(ttl)
	}

	item := &WorkingItem{
		BaseItem: BaseItem{
			ID:           uuid.NewString(),
			Content:      content,
			CreatedAt:    now,
			UpdatedAt:    now,
			LastAccessed: now,
		},
		SessionID:      mctx.SessionID,
		ConversationID: mctx.ConversationID,
		Priority:       opts.Priority,
		ContextType:    opts.ContextType,
		ExpiresAt:      expires,
		RelatedIDs:     append([]string(nil), opts.RelatedIDs...),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.config.MaxItems > 0 && len(s.items) >= s.config.MaxItems {
		s.evictLowestPriorityLocked()
	}
	s.items[item.ID] = item
	s.order = append(s.order, item.ID)

	s.logger.Debug("working item stored",
		zap.String("id", item.ID),
		zap.String("session_id", item.SessionID),
		zap.Int("priority", item.Priority))
	return item.ID, nil
}

// Retrieve returns the item and updates its access bookkeeping. Expired
// items are reported as absent.
func (s *WorkingStore) Retrieve(ctx context.Context, id string) (*WorkingItem, bool) {
	if ctx.Err() != nil {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[id]
	if !ok || item.Expired(s.now()) {
		return nil, false
	}
	item.touch(s.now())
	return item.clone(), true
}

// Search returns non-expired items matching query and filters, ordered by
// priority (highest first), then recency.
func (s *WorkingStore) Search(ctx context.Context, query string, filters WorkingFilters, limit int) []*WorkingItem {
	if ctx.Err() != nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	q := strings.ToLower(query)

	var results []*WorkingItem
	for _, id := range s.order {
		item, ok := s.items[id]
		if !ok || item.Expired(now) {
			continue
		}
		if !s.matches(item, q, filters) {
			continue
		}
		results = append(results, item.clone())
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Priority != results[j].Priority {
			return results[i].Priority < results[j].Priority
		}
		return results[i].CreatedAt.After(results[j].CreatedAt)
	})

	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}

func (s *WorkingStore) matches(item *WorkingItem, lowerQuery string, f WorkingFilters) bool {
	if f.SessionID != "" && item.SessionID != f.SessionID {
		return false
	}
	if f.ConversationID != "" && item.ConversationID != f.ConversationID {
		return false
	}
	if f.ContextType != "" && item.ContextType != f.ContextType {
		return false
	}
	if f.MaxPriority > 0 && item.Priority > f.MaxPriority {
		return false
	}
	if lowerQuery == "" {
		return true
	}
	return strings.Contains(strings.ToLower(item.Content), lowerQuery)
}

// Update applies a partial update. It reports false for unknown or
// expired items.
func (s *WorkingStore) Update(ctx context.Context, id string, patch WorkingPatch) bool {
	if ctx.Err() != nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[id]
	if !ok || item.Expired(s.now()) {
		return false
	}
	if patch.Content != nil {
		item.Content = *patch.Content
	}
	if patch.Priority != nil && *patch.Priority >= 1 && *patch.Priority <= 5 {
		item.Priority = *patch.Priority
	}
	if patch.TTL != nil {
		item.ExpiresAt = s.now().Add(*patch.TTL)
	}
	if patch.RelatedIDs != nil {
		item.RelatedIDs = append([]string(nil), patch.RelatedIDs...)
	}
	item.UpdatedAt = s.now()
	return true
}

// Delete removes an item. It reports whether the item existed.
func (s *WorkingStore) Delete(ctx context.Context, id string) bool {
	if ctx.Err() != nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[id]; !ok {
		return false
	}
	delete(s.items, id)
	s.removeFromOrderLocked(id)
	return true
}

// Items returns a snapshot of all non-expired items in insertion order.
func (s *WorkingStore) Items(ctx context.Context) []*WorkingItem {
	if ctx.Err() != nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	out := make([]*WorkingItem, 0, len(s.items))
	for _, id := range s.order {
		if item, ok := s.items[id]; ok && !item.Expired(now) {
			out = append(out, item.clone())
		}
	}
	return out
}

// Count returns the number of non-expired items.
func (s *WorkingStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	n := 0
	for _, item := range s.items {
		if !item.Expired(now) {
			n++
		}
	}
	return n
}

// Cleanup removes expired items and returns how many were removed.
func (s *WorkingStore) Cleanup(ctx context.Context) int {
	if ctx.Err() != nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for id, item := range s.items {
		if item.Expired(now) {
			delete(s.items, id)
			s.removeFromOrderLocked(id)
			removed++
		}
	}
	if removed > 0 {
		s.logger.Debug("expired working items removed", zap.Int("count", removed))
	}
	return removed
}

func (s *WorkingStore) evictLowestPriorityLocked() {
	victim := ""
	worst := 0
	for _, id := range s.order {
		item, ok := s.items[id]
		if !ok {
			continue
		}
		if item.Priority > worst {
			worst = item.Priority
			victim = id
		}
	}
	if victim != "" {
		delete(s.items, victim)
		s.removeFromOrderLocked(victim)
	}
}

func (s *WorkingStore) removeFromOrderLocked(id string) {
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			return
		}
	}
}
