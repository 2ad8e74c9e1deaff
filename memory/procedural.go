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

// ProceduralStoreConfig configures the procedural memory store.
type ProceduralStoreConfig struct {
	// Now is injectable for tests. Defaults to time.Now.
	Now func() time.Time `json:"-"`
}

// DefaultProceduralStoreConfig returns sensible defaults.
func DefaultProceduralStoreConfig() ProceduralStoreConfig {
	return ProceduralStoreConfig{}
}

// ProceduralOptions carries the variant-specific fields for storing a
// procedure.
type ProceduralOptions struct {
	SkillName     string    `json:"skill_name"`
	Procedure     Procedure `json:"procedure"`
	Effectiveness float64   `json:"effectiveness"`
	Variations    []string  `json:"variations,omitempty"`
	Prerequisites []string  `json:"prerequisites,omitempty"`
}

// ProceduralFilters narrows a procedural search.
type ProceduralFilters struct {
	Trigger          string  `json:"trigger,omitempty"`
	MinEffectiveness float64 `json:"min_effectiveness,omitempty"`
}

// ProceduralPatch is a partial update; nil fields are left untouched.
type ProceduralPatch struct {
	Content       *string    `json:"content,omitempty"`
	Procedure     *Procedure `json:"procedure,omitempty"`
	Effectiveness *float64   `json:"effectiveness,omitempty"`
	Variations    []string   `json:"variations,omitempty"`
	Prerequisites []string   `json:"prerequisites,omitempty"`
}

// ProceduralStore holds learned skills keyed by id with a skill-name
// index.
type ProceduralStore struct {
	config ProceduralStoreConfig

	items   map[string]*ProceduralItem
	order   []string          // insertion order
	bySkill map[string]string // lowercase skill name -> item id

	now    func() time.Time
	logger *zap.Logger
	mu     sync.RWMutex
}

// NewProceduralStore creates a procedural memory store.
func NewProceduralStore(config ProceduralStoreConfig, logger *zap.Logger) *ProceduralStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	now := config.Now
	if now == nil {
		now = time.Now
	}
	return &ProceduralStore{
		config:  config,
		items:   make(map[string]*ProceduralItem),
		bySkill: make(map[string]string),
		now:     now,
		logger:  logger.With(zap.String("component", "procedural_store")),
	}
}

// Store validates and saves a new procedure, returning its id.
func (s *ProceduralStore) Store(ctx context.Context, content string, mctx types.MemoryContext, opts ProceduralOptions) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if strings.TrimSpace(content) == "" {
		return "", newValidationError("content", "must not be empty")
	}
	if strings.TrimSpace(opts.SkillName) == "" {
		return "", newValidationError("skill_name", "must not be empty")
	}

	now := s.now()
	item := &ProceduralItem{
		BaseItem: BaseItem{
			ID:           uuid.NewString(),
			Content:      content,
			CreatedAt:    now,
			UpdatedAt:    now,
			LastAccessed: now,
		},
		SkillName:     opts.SkillName,
		Procedure:     opts.Procedure.clone(),
		Effectiveness: clamp01(opts.Effectiveness),
		Variations:    append([]string(nil), opts.Variations...),
		Prerequisites: append([]string(nil), opts.Prerequisites...),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.items[item.ID] = item
	s.order = append(s.order, item.ID)
	s.bySkill[strings.ToLower(item.SkillName)] = item.ID

	s.logger.Debug("procedure stored",
		zap.String("id", item.ID),
		zap.String("skill", item.SkillName))
	return item.ID, nil
}

// Retrieve returns the procedure and updates its access bookkeeping.
func (s *ProceduralStore) Retrieve(ctx context.Context, id string) (*ProceduralItem, bool) {
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

// BySkill looks up a procedure by its skill name.
func (s *ProceduralStore) BySkill(ctx context.Context, skill string) (*ProceduralItem, bool) {
	if ctx.Err() != nil {
		return nil, false
	}
	s.mu.RLock()
	id, ok := s.bySkill[strings.ToLower(skill)]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return s.Retrieve(ctx, id)
}

// Search ranks matching procedures by effectiveness weighted with usage.
func (s *ProceduralStore) Search(ctx context.Context, query string, filters ProceduralFilters, limit int) []*ProceduralItem {
	if ctx.Err() != nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	q := strings.ToLower(query)
	type scored struct {
		item  *ProceduralItem
		score float64
	}
	var matched []scored
	for _, id := range s.order {
		item, ok := s.items[id]
		if !ok || !s.matches(item, q, filters) {
			continue
		}
		score := item.Effectiveness + float64(item.UsageCount)*0.01
		matched = append(matched, scored{item: item, score: score})
	}

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].score > matched[j].score
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	out := make([]*ProceduralItem, len(matched))
	for i, m := range matched {
		out[i] = m.item.clone()
	}
	return out
}

func (s *ProceduralStore) matches(item *ProceduralItem, lowerQuery string, f ProceduralFilters) bool {
	if item.Effectiveness < f.MinEffectiveness {
		return false
	}
	if f.Trigger != "" && !containsFold(item.Procedure.Triggers, f.Trigger) {
		return false
	}
	if lowerQuery == "" {
		return true
	}
	return strings.Contains(strings.ToLower(item.SearchText()), lowerQuery)
}

// Update applies a partial update. It reports false for unknown items.
func (s *ProceduralStore) Update(ctx context.Context, id string, patch ProceduralPatch) bool {
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
	if patch.Procedure != nil {
		item.Procedure = patch.Procedure.clone()
	}
	if patch.Effectiveness != nil {
		item.Effectiveness = clamp01(*patch.Effectiveness)
	}
	if patch.Variations != nil {
		item.Variations = append([]string(nil), patch.Variations...)
	}
	if patch.Prerequisites != nil {
		item.Prerequisites = append([]string(nil), patch.Prerequisites...)
	}
	item.UpdatedAt = s.now()
	return true
}

// RecordUsage marks a procedure as used and folds the observed success
// into its effectiveness as a running average.
func (s *ProceduralStore) RecordUsage(ctx context.Context, id string, success bool) bool {
	if ctx.Err() != nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[id]
	if !ok {
		return false
	}
	observed := 0.0
	if success {
		observed = 1.0
	}
	item.UsageCount++
	item.LastUsed = s.now()
	item.Effectiveness = clamp01((item.Effectiveness + observed) / 2)
	item.UpdatedAt = s.now()
	return true
}

// Delete removes a procedure and its skill index entry.
func (s *ProceduralStore) Delete(ctx context.Context, id string) bool {
	if ctx.Err() != nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[id]
	if !ok {
		return false
	}
	skill := strings.ToLower(item.SkillName)
	if s.bySkill[skill] == id {
		delete(s.bySkill, skill)
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

// Items returns a snapshot of all procedures in insertion order.
func (s *ProceduralStore) Items(ctx context.Context) []*ProceduralItem {
	if ctx.Err() != nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*ProceduralItem, 0, len(s.items))
	for _, id := range s.order {
		if item, ok := s.items[id]; ok {
			out = append(out, item.clone())
		}
	}
	return out
}

// Count returns the number of stored procedures.
func (s *ProceduralStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}
