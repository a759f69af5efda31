// Package raptor implements C4: the per-level cluster/summarize/embed/
// persist loop that builds a RAPTOR tree over a document's chunks.
package raptor

import "time"

// Params configures a single build, grounded in
// original_source/services/config/raptor_config.py's RaptorConfig defaults.
type Params struct {
	MinK           int
	MaxK           int
	MaxTokens      int
	RPMLimit       int
	LLMConcurrency int
	MaxTreeLevels  int
	MinClusterSize int
	MaxClusterSize int
	SummaryModel   string
}

// DefaultParams mirrors RaptorConfig.from_env()'s defaults.
func DefaultParams() Params {
	return Params{
		MinK:           2,
		MaxK:           50,
		MaxTokens:      512,
		RPMLimit:       3,
		LLMConcurrency: 3,
		MaxTreeLevels:  10,
		MinClusterSize: 2,
		MaxClusterSize: 100,
	}
}

// embedInterval is the minimum wait between batch-embed calls during a
// build, derived from RPMLimit as 60/rpm_limit seconds.
func (p Params) embedInterval() time.Duration {
	if p.RPMLimit <= 0 {
		return 0
	}
	return time.Duration(60/float64(p.RPMLimit)*float64(time.Second))
}

// asMap snapshots the params for the tree's persisted params column.
func (p Params) asMap() map[string]any {
	return map[string]any{
		"min_k":            p.MinK,
		"max_k":            p.MaxK,
		"max_tokens":       p.MaxTokens,
		"rpm_limit":        p.RPMLimit,
		"llm_concurrency":  p.LLMConcurrency,
		"max_tree_levels":  p.MaxTreeLevels,
		"min_cluster_size": p.MinClusterSize,
		"max_cluster_size": p.MaxClusterSize,
		"summary_model":    p.SummaryModel,
	}
}
