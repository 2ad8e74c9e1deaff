package memory

import (
	"time"

	"github.com/BaSui01/memflow/types"
)

// BaseItem carries the identity and access-tracking fields shared by all
// memory item variants. A BaseItem is owned exclusively by the store that
// created it and is mutated only through that store's API.
type BaseItem struct {
	ID           string    `json:"id"`
	Content      string    `json:"content"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	AccessCount  int       `json:"access_count"`
	LastAccessed time.Time `json:"last_accessed"`
}

// touch records a read access.
func (b *BaseItem) touch(now time.Time) {
	b.AccessCount++
	b.LastAccessed = now
}

// Item is the common contract exposed by every memory variant. Cross-type
// code (hybrid retrieval, consolidation) operates on this interface and
// never on the concrete variants directly.
type Item interface {
	// Base returns the shared identity and access-tracking fields.
	Base() *BaseItem

	// Category returns the variant's memory category tag.
	Category() types.MemoryCategory

	// SearchText returns the text the variant exposes to lexical and
	// vector search: content plus variant-specific labels (tags, domain,
	// skill name and so on).
	SearchText() string
}

// WorkingItem is a transient context item scoped to a session.
type WorkingItem struct {
	BaseItem
	SessionID      string            `json:"session_id"`
	ConversationID string            `json:"conversation_id"`
	Priority       int               `json:"priority"` // 1 (highest) .. 5 (lowest)
	ContextType    types.ContextType `json:"context_type"`
	ExpiresAt      time.Time         `json:"expires_at"`
	RelatedIDs     []string          `json:"related_ids,omitempty"`
}

// Base implements Item.
func (w *WorkingItem) Base() *BaseItem { return &w.BaseItem }

// Category implements Item.
func (w *WorkingItem) Category() types.MemoryCategory { return types.MemoryWorking }

// SearchText implements Item.
func (w *WorkingItem) SearchText() string {
	return w.Content + " " + string(w.ContextType)
}

// Expired reports whether the item's expiry timestamp has passed.
func (w *WorkingItem) Expired(now time.Time) bool {
	return !w.ExpiresAt.IsZero() && !now.Before(w.ExpiresAt)
}

func (w *WorkingItem) clone() *WorkingItem {
	cp := *w
	cp.RelatedIDs = append([]string(nil), w.RelatedIDs...)
	return &cp
}

// EpisodeContext records the interaction an episodic item captures.
type EpisodeContext struct {
	UserAction     string        `json:"user_action"`
	SystemResponse string        `json:"system_response"`
	Outcome        types.Outcome `json:"outcome"`
	Feedback       string        `json:"feedback,omitempty"`
}

// EpisodicItem is a remembered event with derived takeaways.
type EpisodicItem struct {
	BaseItem
	EpisodeID       string         `json:"episode_id"`
	EventTime       time.Time      `json:"event_time"`
	Context         EpisodeContext `json:"context"`
	Takeaways       []string       `json:"takeaways,omitempty"`
	Emotion         string         `json:"emotion,omitempty"`
	Tags            []string       `json:"tags,omitempty"`
	RelatedEpisodes []string       `json:"related_episodes,omitempty"`
}

// Base implements Item.
func (e *EpisodicItem) Base() *BaseItem { return &e.BaseItem }

// Category implements Item.
func (e *EpisodicItem) Category() types.MemoryCategory { return types.MemoryEpisodic }

// SearchText implements Item.
func (e *EpisodicItem) SearchText() string {
	s := e.Content + " " + e.Context.UserAction + " " + e.Context.SystemResponse
	for _, t := range e.Tags {
		s += " " + t
	}
	for _, t := range e.Takeaways {
		s += " " + t
	}
	return s
}

func (e *EpisodicItem) clone() *EpisodicItem {
	cp := *e
	cp.Takeaways = append([]string(nil), e.Takeaways...)
	cp.Tags = append([]string(nil), e.Tags...)
	cp.RelatedEpisodes = append([]string(nil), e.RelatedEpisodes...)
	return &cp
}

// ConceptRelations holds the three weak reference sets of the semantic
// knowledge graph. Entries are concept keys, not item ids: resolution is a
// lookup against the semantic store's concept index and must tolerate
// dangling keys. Cycles are permitted.
type ConceptRelations struct {
	Parents  []string `json:"parents,omitempty"`
	Children []string `json:"children,omitempty"`
	Related  []string `json:"related,omitempty"`
}

func (r ConceptRelations) clone() ConceptRelations {
	return ConceptRelations{
		Parents:  append([]string(nil), r.Parents...),
		Children: append([]string(nil), r.Children...),
		Related:  append([]string(nil), r.Related...),
	}
}

// all returns every referenced concept key across the three sets.
func (r ConceptRelations) all() []string {
	out := make([]string, 0, len(r.Parents)+len(r.Children)+len(r.Related))
	out = append(out, r.Parents...)
	out = append(out, r.Children...)
	out = append(out, r.Related...)
	return out
}

// SemanticItem is a piece of factual or conceptual knowledge.
type SemanticItem struct {
	BaseItem
	SemanticCategory types.SemanticCategory `json:"semantic_category"`
	Domain           string                 `json:"domain"`
	Confidence       float64                `json:"confidence"` // always in [0,1]
	Sources          []string               `json:"sources,omitempty"`
	Relations        ConceptRelations       `json:"relations"`
	Examples         []string               `json:"examples,omitempty"`
	LastValidated    time.Time              `json:"last_validated"`
}

// Base implements Item.
func (s *SemanticItem) Base() *BaseItem { return &s.BaseItem }

// Category implements Item.
func (s *SemanticItem) Category() types.MemoryCategory { return types.MemorySemantic }

// SearchText implements Item.
func (s *SemanticItem) SearchText() string {
	return s.Content + " " + s.Domain + " " + string(s.SemanticCategory)
}

func (s *SemanticItem) clone() *SemanticItem {
	cp := *s
	cp.Sources = append([]string(nil), s.Sources...)
	cp.Relations = s.Relations.clone()
	cp.Examples = append([]string(nil), s.Examples...)
	return &cp
}

// ProcedureStep is one ordered step of a learned procedure.
type ProcedureStep struct {
	Action          string   `json:"action"`
	Preconditions   []string `json:"preconditions,omitempty"`
	ExpectedOutcome string   `json:"expected_outcome,omitempty"`
}

// Procedure describes how to perform a skill.
type Procedure struct {
	Steps    []ProcedureStep `json:"steps"`
	Triggers []string        `json:"triggers,omitempty"`
	Contexts []string        `json:"contexts,omitempty"`
}

func (p Procedure) clone() Procedure {
	cp := Procedure{
		Steps:    make([]ProcedureStep, len(p.Steps)),
		Triggers: append([]string(nil), p.Triggers...),
		Contexts: append([]string(nil), p.Contexts...),
	}
	for i, st := range p.Steps {
		cp.Steps[i] = ProcedureStep{
			Action:          st.Action,
			Preconditions:   append([]string(nil), st.Preconditions...),
			ExpectedOutcome: st.ExpectedOutcome,
		}
	}
	return cp
}

// ProceduralItem is a learned skill with an effectiveness track record.
type ProceduralItem struct {
	BaseItem
	SkillName     string    `json:"skill_name"`
	Procedure     Procedure `json:"procedure"`
	Effectiveness float64   `json:"effectiveness"` // in [0,1]
	UsageCount    int       `json:"usage_count"`
	LastUsed      time.Time `json:"last_used,omitempty"`
	Variations    []string  `json:"variations,omitempty"`
	Prerequisites []string  `json:"prerequisites,omitempty"`
}

// Base implements Item.
func (p *ProceduralItem) Base() *BaseItem { return &p.BaseItem }

// Category implements Item.
func (p *ProceduralItem) Category() types.MemoryCategory { return types.MemoryProcedural }

// SearchText implements Item.
func (p *ProceduralItem) SearchText() string {
	s := p.Content + " " + p.SkillName
	for _, t := range p.Procedure.Triggers {
		s += " " + t
	}
	return s
}

func (p *ProceduralItem) clone() *ProceduralItem {
	cp := *p
	cp.Procedure = p.Procedure.clone()
	cp.Variations = append([]string(nil), p.Variations...)
	cp.Prerequisites = append([]string(nil), p.Prerequisites...)
	return &cp
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
