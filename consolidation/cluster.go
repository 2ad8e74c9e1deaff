package consolidation

import (
	"sort"
	"strings"
	"time"
)

// StrategyName identifies a clustering strategy.
type StrategyName string

const (
	StrategySemantic StrategyName = "semantic"
	StrategyTemporal StrategyName = "temporal"
	StrategyUsage    StrategyName = "usage"
	StrategyPattern  StrategyName = "pattern"
)

// AllStrategies lists every strategy in execution order.
func AllStrategies() []StrategyName {
	return []StrategyName{StrategySemantic, StrategyTemporal, StrategyUsage, StrategyPattern}
}

// ClusterMetadata carries provenance for a cluster.
type ClusterMetadata struct {
	Confidence float64      `json:"confidence"`
	CreatedAt  time.Time    `json:"created_at"`
	Strategy   StrategyName `json:"strategy"`
}

// Cluster is an ephemeral grouping of memory items proposed for merging.
// Clusters live within a single consolidation run; only the consolidated
// item they may produce outlives them.
type Cluster struct {
	ID             string          `json:"id"`
	Strategy       StrategyName    `json:"strategy"`
	MemberIDs      []string        `json:"member_ids"`
	Centroid       []float64       `json:"centroid,omitempty"`
	Coherence      float64         `json:"coherence"`
	ConsolidatedID string          `json:"consolidated_id,omitempty"`
	Metadata       ClusterMetadata `json:"metadata"`
}

// signature is a stable identity over the member set, used to drop
// duplicate clusters proposed by different strategies.
func (c *Cluster) signature() string {
	ids := append([]string(nil), c.MemberIDs...)
	sort.Strings(ids)
	return strings.Join(ids, "|")
}
