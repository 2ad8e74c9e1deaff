package memory

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/memflow/types"
)

// SemanticStoreConfig configures the semantic knowledge store.
type SemanticStoreConfig struct {
	// MinConfidence rejects items stored with a lower confidence.
	MinConfidence float64 `json:"min_confidence"`

	// ValidationInterval is the window after which un-revalidated
	// knowledge is considered stale. Stale items are warned about on
	// retrieval, never deleted.
	ValidationInterval time.Duration `json:"validation_interval"`

	// ConceptKeyLength is how many normalized content characters form a
	// concept key.
	ConceptKeyLength int `json:"concept_key_length"`

	// Now is injectable for tests. Defaults to time.Now.
	Now func() time.Time `json:"-"`
}

// DefaultSemanticStoreConfig returns sensible defaults.
func DefaultSemanticStoreConfig() SemanticStoreConfig {
	return SemanticStoreConfig{
		MinConfidence:      0.3,
		ValidationInterval: 30 * 24 * time.Hour,
		ConceptKeyLength:   30,
	}
}

// SemanticOptions carries the variant-specific fields for storing a
// semantic item.
type SemanticOptions struct {
	Category      types.SemanticCategory `json:"category"`
	Domain        string                 `json:"domain"`
	Confidence    float64                `json:"confidence"`
	Sources       []string               `json:"sources,omitempty"`
	Relations     ConceptRelations       `json:"relations,omitempty"`
	Examples      []string               `json:"examples,omitempty"`
	LastValidated time.Time              `json:"last_validated,omitempty"`
}

// SemanticFilters narrows a semantic search.
type SemanticFilters struct {
	Category      types.SemanticCategory `json:"category,omitempty"`
	Domain        string                 `json:"domain,omitempty"`
	MinConfidence float64                `json:"min_confidence,omitempty"`
}

// SemanticPatch is a partial update; nil fields are left untouched.
type SemanticPatch struct {
	Content       *string           `json:"content,omitempty"`
	Confidence    *float64          `json:"confidence,omitempty"`
	Domain        *string           `json:"domain,omitempty"`
	Relations     *ConceptRelations `json:"relations,omitempty"`
	Examples      []string          `json:"examples,omitempty"`
	Revalidate    bool              `json:"revalidate,omitempty"`
	AppendSources []string          `json:"append_sources,omitempty"`
}

// SemanticStore holds factual and conceptual knowledge. Beyond the item
// map it maintains a domain index and a concept-key index (the normalized
// head of each item's content) used by FindRelatedConcepts.
type SemanticStore struct {
	config SemanticStoreConfig

	items    map[string]*SemanticItem
	order    []string            // insertion order, breaks score ties
	byDomain map[string][]string // domain -> item ids
	byKey    map[string][]string // concept key -> item ids

	now    func() time.Time
	logger *zap.Logger
	mu     sync.RWMutex
}

// NewSemanticStore creates a semantic memory store.
func NewSemanticStore(config SemanticStoreConfig, logger *zap.Logger) *SemanticStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.ConceptKeyLength <= 0 {
		config.ConceptKeyLength = 30
	}
	now := config.Now
	if now == nil {
		now = time.Now
	}
	return &SemanticStore{
		config:   config,
		items:    make(map[string]*SemanticItem),
		byDomain: make(map[string][]string),
		byKey:    make(map[string][]string),
		now:      now,
		logger:   logger.With(zap.String("component", "semantic_store")),
	}
}

// ConceptKey normalizes content into the key used by the concept index
// and by relation references: lowercase, collapsed whitespace, truncated.
func (s *SemanticStore) ConceptKey(content string) string {
	key := strings.ToLower(strings.Join(strings.Fields(content), " "))
	if len(key) > s.config.ConceptKeyLength {
		key = key[:s.config.ConceptKeyLength]
	}
	return strings.TrimSpace(key)
}

// Store validates and saves a new semantic item, returning its id.
// Confidence is clamped to [0,1]; a clamped value below MinConfidence is
// rejected with a ValidationError and leaves no trace in any index.
func (s *SemanticStore) Store(ctx context.Context, content string, mctx types.MemoryContext, opts SemanticOptions) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if strings.TrimSpace(content) == "" {
		return "", newValidationError("content", "must not be empty")
	}
	if opts.Category != "" && !opts.Category.Valid() {
		return "", newValidationError("category", "unknown semantic category %q", opts.Category)
	}
	confidence := clamp01(opts.Confidence)
	if confidence < s.config.MinConfidence {
		return "", newValidationError("confidence",
			"%.2f is below the minimum %.2f", confidence, s.config.MinConfidence)
	}

	now := s.now()
	validated := opts.LastValidated
	if validated.IsZero() {
		validated = now
	}
	category := opts.Category
	if category == "" {
		category = types.SemanticFact
	}

	item := &SemanticItem{
		BaseItem: BaseItem{
			ID:           uuid.NewString(),
			Content:      content,
			CreatedAt:    now,
			UpdatedAt:    now,
			LastAccessed: now,
		},
		SemanticCategory: category,
		Domain:           opts.Domain,
		Confidence:       confidence,
		Sources:          append([]string(nil), opts.Sources...),
		Relations:        opts.Relations.clone(),
		Examples:         append([]string(nil), opts.Examples...),
		LastValidated:    validated,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.items[item.ID] = item
	s.order = append(s.order, item.ID)
	s.indexLocked(item)

	s.logger.Debug("semantic item stored",
		zap.String("id", item.ID),
		zap.String("domain", item.Domain),
		zap.Float64("confidence", item.Confidence))
	return item.ID, nil
}

// Retrieve returns the item and updates its access bookkeeping. Knowledge
// past its validation window triggers a staleness warning but is still
// returned.
func (s *SemanticStore) Retrieve(ctx context.Context, id string) (*SemanticItem, bool) {
	if ctx.Err() != nil {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[id]
	if !ok {
		return nil, false
	}
	now := s.now()
	item.touch(now)

	if age := now.Sub(item.LastValidated); age > s.config.ValidationInterval {
		s.logger.Warn("semantic knowledge is stale",
			zap.String("id", item.ID),
			zap.String("domain", item.Domain),
			zap.Duration("age", age),
			zap.Duration("validation_interval", s.config.ValidationInterval))
	}
	return item.clone(), true
}

// Search ranks matching items by the semantic relevance score:
//
//	confidence*10 + ln(accessCount+1) + (window-age)/window
//
// descending, ties broken by insertion order.
func (s *SemanticStore) Search(ctx context.Context, query string, filters SemanticFilters, limit int) []*SemanticItem {
	if ctx.Err() != nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	q := strings.ToLower(query)
	now := s.now()

	type scored struct {
		item  *SemanticItem
		score float64
	}
	var matched []scored
	for _, id := range s.order {
		item, ok := s.items[id]
		if !ok || !s.matchesLocked(item, q, filters) {
			continue
		}
		matched = append(matched, scored{item: item, score: s.scoreLocked(item, now)})
	}

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].score > matched[j].score
	})

	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	out := make([]*SemanticItem, len(matched))
	for i, m := range matched {
		out[i] = m.item.clone()
	}
	return out
}

// Score exposes the relevance score of a stored item (0 when absent).
func (s *SemanticStore) Score(id string) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[id]
	if !ok {
		return 0
	}
	return s.scoreLocked(item, s.now())
}

func (s *SemanticStore) scoreLocked(item *SemanticItem, now time.Time) float64 {
	window := s.config.ValidationInterval
	if window <= 0 {
		window = time.Hour
	}
	age := now.Sub(item.LastValidated)
	freshness := (window - age).Seconds() / window.Seconds()
	return item.Confidence*10 + math.Log(float64(item.AccessCount)+1) + freshness
}

func (s *SemanticStore) matchesLocked(item *SemanticItem, lowerQuery string, f SemanticFilters) bool {
	if f.Category != "" && item.SemanticCategory != f.Category {
		return false
	}
	if f.Domain != "" && !strings.EqualFold(item.Domain, f.Domain) {
		return false
	}
	if item.Confidence < f.MinConfidence {
		return false
	}
	if lowerQuery == "" {
		return true
	}
	if strings.Contains(strings.ToLower(item.Content), lowerQuery) {
		return true
	}
	if strings.Contains(strings.ToLower(item.Domain), lowerQuery) {
		return true
	}
	for _, ex := range item.Examples {
		if strings.Contains(strings.ToLower(ex), lowerQuery) {
			return true
		}
	}
	return false
}

// Update applies a partial update. It reports false for unknown items and
// refuses confidence drops below the configured minimum.
func (s *SemanticStore) Update(ctx context.Context, id string, patch SemanticPatch) bool {
	if ctx.Err() != nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[id]
	if !ok {
		return false
	}
	if patch.Confidence != nil {
		c := clamp01(*patch.Confidence)
		if c < s.config.MinConfidence {
			return false
		}
		item.Confidence = c
	}
	if patch.Content != nil {
		s.unindexLocked(item)
		item.Content = *patch.Content
		s.indexLocked(item)
	}
	if patch.Domain != nil {
		s.unindexLocked(item)
		item.Domain = *patch.Domain
		s.indexLocked(item)
	}
	if patch.Relations != nil {
		item.Relations = patch.Relations.clone()
	}
	if patch.Examples != nil {
		item.Examples = append([]string(nil), patch.Examples...)
	}
	if len(patch.AppendSources) > 0 {
		item.Sources = appendUnique(item.Sources, patch.AppendSources...)
	}
	if patch.Revalidate {
		item.LastValidated = s.now()
	}
	item.UpdatedAt = s.now()
	return true
}

// Delete removes an item and all its index entries.
func (s *SemanticStore) Delete(ctx context.Context, id string) bool {
	if ctx.Err() != nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[id]
	if !ok {
		return false
	}
	s.unindexLocked(item)
	delete(s.items, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

// Items returns a snapshot of all items in insertion order.
func (s *SemanticStore) Items(ctx context.Context) []*SemanticItem {
	if ctx.Err() != nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*SemanticItem, 0, len(s.items))
	for _, id := range s.order {
		if item, ok := s.items[id]; ok {
			out = append(out, item.clone())
		}
	}
	return out
}

// Count returns the number of stored items.
func (s *SemanticStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// StaleCount returns how many items are past their validation window.
func (s *SemanticStore) StaleCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	n := 0
	for _, item := range s.items {
		if now.Sub(item.LastValidated) > s.config.ValidationInterval {
			n++
		}
	}
	return n
}

// ByDomain returns the items indexed under a domain label.
func (s *SemanticStore) ByDomain(ctx context.Context, domain string) []*SemanticItem {
	if ctx.Err() != nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byDomain[strings.ToLower(domain)]
	out := make([]*SemanticItem, 0, len(ids))
	for _, id := range ids {
		if item, ok := s.items[id]; ok {
			out = append(out, item.clone())
		}
	}
	return out
}

// FindRelatedConcepts walks the concept graph outward from items matching
// the concept text, following parent/child/related keys breadth-first up
// to maxDepth hops. Dangling keys are tolerated; revisits are stopped by
// a visited set, so cycles terminate.
func (s *SemanticStore) FindRelatedConcepts(ctx context.Context, concept string, maxDepth int) []*SemanticItem {
	if ctx.Err() != nil {
		return nil
	}
	if maxDepth <= 0 {
		maxDepth = 2
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	lower := strings.ToLower(concept)
	visited := make(map[string]bool)
	var frontier []*SemanticItem

	// Seed with direct text matches and exact concept-key hits.
	for _, id := range s.byKey[s.ConceptKey(concept)] {
		if item, ok := s.items[id]; ok && !visited[item.ID] {
			visited[item.ID] = true
			frontier = append(frontier, item)
		}
	}
	for _, id := range s.order {
		item, ok := s.items[id]
		if !ok || visited[item.ID] {
			continue
		}
		if strings.Contains(strings.ToLower(item.Content), lower) {
			visited[item.ID] = true
			frontier = append(frontier, item)
		}
	}

	results := append([]*SemanticItem(nil), frontier...)
	for depth := 0; depth < maxDepth && len(frontier) > 0; depth++ {
		var next []*SemanticItem
		for _, item := range frontier {
			for _, key := range item.Relations.all() {
				for _, id := range s.byKey[key] {
					neighbor, ok := s.items[id]
					if !ok || visited[neighbor.ID] {
						continue
					}
					visited[neighbor.ID] = true
					next = append(next, neighbor)
					results = append(results, neighbor)
				}
			}
		}
		frontier = next
	}

	out := make([]*SemanticItem, len(results))
	for i, item := range results {
		out[i] = item.clone()
	}
	return out
}

func (s *SemanticStore) indexLocked(item *SemanticItem) {
	if item.Domain != "" {
		d := strings.ToLower(item.Domain)
		s.byDomain[d] = append(s.byDomain[d], item.ID)
	}
	key := s.ConceptKey(item.Content)
	if key != "" {
		s.byKey[key] = append(s.byKey[key], item.ID)
	}
}

func (s *SemanticStore) unindexLocked(item *SemanticItem) {
	if item.Domain != "" {
		d := strings.ToLower(item.Domain)
		s.byDomain[d] = removeID(s.byDomain[d], item.ID)
		if len(s.byDomain[d]) == 0 {
			delete(s.byDomain, d)
		}
	}
	key := s.ConceptKey(item.Content)
	if key != "" {
		s.byKey[key] = removeID(s.byKey[key], item.ID)
		if len(s.byKey[key]) == 0 {
			delete(s.byKey, key)
		}
	}
}

func removeID(ids []string, id string) []string {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}

func appendUnique(dst []string, values ...string) []string {
	seen := make(map[string]bool, len(dst))
	for _, v := range dst {
		seen[v] = true
	}
	for _, v := range values {
		if !seen[v] {
			dst = append(dst, v)
			seen[v] = true
		}
	}
	return dst
}
