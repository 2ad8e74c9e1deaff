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

// EpisodicStoreConfig configures the episodic memory store.
type EpisodicStoreConfig struct {
	// MaxItems bounds the store; 0 disables the bound. When full, the
	// oldest episode is evicted.
	MaxItems int `json:"max_items"`

	// Now is injectable for tests. Defaults to time.Now.
	Now func() time.Time `json:"-"`
}

// DefaultEpisodicStoreConfig returns sensible defaults.
func DefaultEpisodicStoreConfig() EpisodicStoreConfig {
	return EpisodicStoreConfig{MaxItems: 5000}
}

// EpisodicOptions carries the variant-specific fields for recording an
// episode.
type EpisodicOptions struct {
	EpisodeID       string         `json:"episode_id,omitempty"`
	EventTime       time.Time      `json:"event_time,omitempty"`
	Context         EpisodeContext `json:"context"`
	Takeaways       []string       `json:"takeaways,omitempty"`
	Emotion         string         `json:"emotion,omitempty"`
	Tags            []string       `json:"tags,omitempty"`
	RelatedEpisodes []string       `json:"related_episodes,omitempty"`
}

// EpisodicFilters narrows an episodic search.
type EpisodicFilters struct {
	Outcome types.Outcome `json:"outcome,omitempty"`
	Tags    []string      `json:"tags,omitempty"` // all listed tags must be present
	After   time.Time     `json:"after,omitempty"`
	Before  time.Time     `json:"before,omitempty"`
}

// EpisodicPatch is a partial update; nil fields are left untouched.
type EpisodicPatch struct {
	Content         *string  `json:"content,omitempty"`
	Takeaways       []string `json:"takeaways,omitempty"`
	Emotion         *string  `json:"emotion,omitempty"`
	AppendTags      []string `json:"append_tags,omitempty"`
	RelatedEpisodes []string `json:"related_episodes,omitempty"`
}

// EpisodicStore records past interactions as a searchable event history
// with a tag index.
type EpisodicStore struct {
	config EpisodicStoreConfig

	items map[string]*EpisodicItem
	order []string            // insertion order
	byTag map[string][]string // tag -> item ids

	now    func() time.Time
	logger *zap.Logger
	mu     sync.RWMutex
}

// NewEpisodicStore creates an episodic memory store.
func NewEpisodicStore(config EpisodicStoreConfig, logger *zap.Logger) *EpisodicStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	now := config.Now
	if now == nil {
		now = time.Now
	}
	return &EpisodicStore{
		config: config,
		items:  make(map[string]*EpisodicItem),
		byTag:  make(map[string][]string),
		now:    now,
		logger: logger.With(zap.String("component", "episodic_store")),
	}
}

// Store validates and records a new episode, returning its id.
func (s *EpisodicStore) Store(ctx context.Context, content string, mctx types.MemoryContext, opts EpisodicOptions) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if strings.TrimSpace(content) == "" {
		return "", newValidationError("content", "must not be empty")
	}
	if opts.Context.Outcome != "" && !opts.Context.Outcome.Valid() {
		return "", newValidationError("outcome", "unknown outcome %q", opts.Context.Outcome)
	}

	now := s.now()
	eventTime := opts.EventTime
	if eventTime.IsZero() {
		eventTime = now
	}
	episodeID := opts.EpisodeID
	if episodeID == "" {
		episodeID = mctx.ConversationID
	}

	item := &EpisodicItem{
		BaseItem: BaseItem{
			ID:           uuid.NewString(),
			Content:      content,
			CreatedAt:    now,
			UpdatedAt:    now,
			LastAccessed: now,
		},
		EpisodeID:       episodeID,
		EventTime:       eventTime,
		Context:         opts.Context,
		Takeaways:       append([]string(nil), opts.Takeaways...),
		Emotion:         opts.Emotion,
		Tags:            append([]string(nil), opts.Tags...),
		RelatedEpisodes: append([]string(nil), opts.RelatedEpisodes...),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.config.MaxItems > 0 && len(s.items) >= s.config.MaxItems {
		s.evictOldestLocked()
	}
	s.items[item.ID] = item
	s.order = append(s.order, item.ID)
	for _, tag := range item.Tags {
		t := strings.ToLower(tag)
		s.byTag[t] = append(s.byTag[t], item.ID)
	}

	s.logger.Debug("episode recorded",
		zap.String("id", item.ID),
		zap.String("episode_id", item.EpisodeID),
		zap.String("outcome", string(item.Context.Outcome)))
	return item.ID, nil
}

// Retrieve returns the episode and updates its access bookkeeping.
func (s *EpisodicStore) Retrieve(ctx context.Context, id string) (*EpisodicItem, bool) {
	if ctx.Err() != nil {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[id]
	if !ok {
		return nil, false
	}
	item.touch(s.now())
	return item.clone(), true
}

// Search returns episodes matching query and filters, most recent events
// first.
func (s *EpisodicStore) Search(ctx context.Context, query string, filters EpisodicFilters, limit int) []*EpisodicItem {
	if ctx.Err() != nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	q := strings.ToLower(query)
	var results []*EpisodicItem
	for _, id := range s.order {
		item, ok := s.items[id]
		if !ok || !s.matches(item, q, filters) {
			continue
		}
		results = append(results, item.clone())
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].EventTime.After(results[j].EventTime)
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}

func (s *EpisodicStore) matches(item *EpisodicItem, lowerQuery string, f EpisodicFilters) bool {
	if f.Outcome != "" && item.Context.Outcome != f.Outcome {
		return false
	}
	if !f.After.IsZero() && item.EventTime.Before(f.After) {
		return false
	}
	if !f.Before.IsZero() && item.EventTime.After(f.Before) {
		return false
	}
	for _, want := range f.Tags {
		found := false
		for _, tag := range item.Tags {
			if strings.EqualFold(tag, want) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if lowerQuery == "" {
		return true
	}
	return strings.Contains(strings.ToLower(item.SearchText()), lowerQuery)
}

// Update applies a partial update. It reports false for unknown items.
func (s *EpisodicStore) Update(ctx context.Context, id string, patch EpisodicPatch) bool {
	if ctx.Err() != nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[id]
	if !ok {
		return false
	}
	if patch.Content != nil {
		item.Content = *patch.Content
	}
	if patch.Takeaways != nil {
		item.Takeaways = append([]string(nil), patch.Takeaways...)
	}
	if patch.Emotion != nil {
		item.Emotion = *patch.Emotion
	}
	for _, tag := range patch.AppendTags {
		t := strings.ToLower(tag)
		if !containsFold(item.Tags, tag) {
			item.Tags = append(item.Tags, tag)
			s.byTag[t] = append(s.byTag[t], item.ID)
		}
	}
	if patch.RelatedEpisodes != nil {
		item.RelatedEpisodes = append([]string(nil), patch.RelatedEpisodes...)
	}
	item.UpdatedAt = s.now()
	return true
}

// Delete removes an episode and its tag index entries.
func (s *EpisodicStore) Delete(ctx context.Context, id string) bool {
	if ctx.Err() != nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteLocked(id)
}

func (s *EpisodicStore) deleteLocked(id string) bool {
	item, ok := s.items[id]
	if !ok {
		return false
	}
	for _, tag := range item.Tags {
		t := strings.ToLower(tag)
		s.byTag[t] = removeID(s.byTag[t], id)
		if len(s.byTag[t]) == 0 {
			delete(s.byTag, t)
		}
	}
	delete(s.items, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

// ByTag returns episodes carrying the given tag.
func (s *EpisodicStore) ByTag(ctx context.Context, tag string) []*EpisodicItem {
	if ctx.Err() != nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byTag[strings.ToLower(tag)]
	out := make([]*EpisodicItem, 0, len(ids))
	for _, id := range ids {
		if item, ok := s.items[id]; ok {
			out = append(out, item.clone())
		}
	}
	return out
}

// Timeline returns episodes whose event time falls in [start, end],
// oldest first.
func (s *EpisodicStore) Timeline(ctx context.Context, start, end time.Time) []*EpisodicItem {
	if ctx.Err() != nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []*EpisodicItem
	for _, id := range s.order {
		item, ok := s.items[id]
		if !ok {
			continue
		}
		if item.EventTime.Before(start) || item.EventTime.After(end) {
			continue
		}
		results = append(results, item.clone())
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].EventTime.Before(results[j].EventTime)
	})
	return results
}

// Items returns a snapshot of all episodes in insertion order.
func (s *EpisodicStore) Items(ctx context.Context) []*EpisodicItem {
	if ctx.Err() != nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*EpisodicItem, 0, len(s.items))
	for _, id := range s.order {
		if item, ok := s.items[id]; ok {
			out = append(out, item.clone())
		}
	}
	return out
}

// Count returns the number of stored episodes.
func (s *EpisodicStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

func (s *EpisodicStore) evictOldestLocked() {
	if len(s.order) == 0 {
		return
	}
	s.deleteLocked(s.order[0])
}

func containsFold(haystack []string, needle string) bool {
	for _, v := range haystack {
		if strings.EqualFold(v, needle) {
			return true
		}
	}
	return false
}
