package types

import "time"

// MemoryCategory defines the unified memory category across the engine.
type MemoryCategory string

const (
	// MemoryWorking represents short-term working memory for current task context.
	MemoryWorking MemoryCategory = "working"

	// MemoryEpisodic represents event-based experiential memories.
	MemoryEpisodic MemoryCategory = "episodic"

	// MemorySemantic represents factual knowledge and learned information.
	MemorySemantic MemoryCategory = "semantic"

	// MemoryProcedural represents how-to knowledge and learned procedures.
	MemoryProcedural MemoryCategory = "procedural"
)

// AllCategories lists every memory category in a stable order.
func AllCategories() []MemoryCategory {
	return []MemoryCategory{MemoryWorking, MemoryEpisodic, MemorySemantic, MemoryProcedural}
}

// Valid reports whether c is one of the four known categories.
func (c MemoryCategory) Valid() bool {
	switch c {
	case MemoryWorking, MemoryEpisodic, MemorySemantic, MemoryProcedural:
		return true
	}
	return false
}

// ContextType tags a working-memory item with the kind of context it holds.
type ContextType string

const (
	ContextUserQuery      ContextType = "user_query"
	ContextSystemResponse ContextType = "system_response"
	ContextTaskContext    ContextType = "task_context"
	ContextTemporaryNote  ContextType = "temporary_note"
)

// Valid reports whether t is a known context type.
func (t ContextType) Valid() bool {
	switch t {
	case ContextUserQuery, ContextSystemResponse, ContextTaskContext, ContextTemporaryNote:
		return true
	}
	return false
}

// Outcome classifies how an episodic interaction ended.
type Outcome string

const (
	OutcomeSuccessful Outcome = "successful"
	OutcomeFailed     Outcome = "failed"
	OutcomePartial    Outcome = "partial"
	OutcomeAbandoned  Outcome = "abandoned"
)

// Valid reports whether o is a known outcome.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomeSuccessful, OutcomeFailed, OutcomePartial, OutcomeAbandoned:
		return true
	}
	return false
}

// SemanticCategory classifies a semantic knowledge item.
type SemanticCategory string

const (
	SemanticFact         SemanticCategory = "fact"
	SemanticConcept      SemanticCategory = "concept"
	SemanticDefinition   SemanticCategory = "definition"
	SemanticRelationship SemanticCategory = "relationship"
	SemanticRule         SemanticCategory = "rule"
)

// Valid reports whether c is a known semantic category.
func (c SemanticCategory) Valid() bool {
	switch c {
	case SemanticFact, SemanticConcept, SemanticDefinition, SemanticRelationship, SemanticRule:
		return true
	}
	return false
}

// MemoryContext is the caller-supplied context record attached to store and
// search operations. The engine treats it as opaque beyond echoing it back
// in results and stamping working items with the session identifiers.
type MemoryContext struct {
	SessionID      string    `json:"session_id"`
	ConversationID string    `json:"conversation_id"`
	Timestamp      time.Time `json:"timestamp"`
	UserID         string    `json:"user_id,omitempty"`
	Priorities     []string  `json:"priorities,omitempty"`
}

// MemoryStats provides statistics about memory usage across stores.
type MemoryStats struct {
	TotalItems   int                    `json:"total_items"`
	ByCategory   map[MemoryCategory]int `json:"by_category"`
	OldestItem   time.Time              `json:"oldest_item,omitempty"`
	NewestItem   time.Time              `json:"newest_item,omitempty"`
	Consolidated int                    `json:"consolidated,omitempty"`
}
