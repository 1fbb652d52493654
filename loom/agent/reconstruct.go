package agent

import (
	"fmt"
	"sort"

	"github.com/RoaringBitmap/roaring/roaring64"

	ports "github.com/taskloom/taskloom/loom/agent/ports"
)

// Budget bounds the reconstructed context size.
type Budget struct {
	MaxContextTokens int // hard cap on the token estimate
	MinRecentTurns   int // most recent turns always kept when truncating
}

// RebuildStats reports what reconstruction did to the history.
type RebuildStats struct {
	Total             int
	DuplicatesRemoved int
	Truncated         bool
	EstimatedTokens   int
	Warnings          []string
}

// Reconstructor rebuilds a deterministic, ordered conversation from stored
// turns plus the new inbound message(s). It never mutates turn content and
// performs no I/O; anomalies become warnings, not errors.
type Reconstructor struct {
	budget Budget
	// TokenEstimator should be a fast heuristic; we avoid binding to a specific tokenizer here.
	TokenEstimator func(s string) int
}

// NewReconstructor creates a reconstructor with the given budget.
func NewReconstructor(b Budget) *Reconstructor {
	if b.MinRecentTurns <= 0 {
		b.MinRecentTurns = 4
	}
	return &Reconstructor{
		budget: b,
		TokenEstimator: func(s string) int { // rough heuristic: ~4 chars per token
			l := len(s)
			if l == 0 {
				return 0
			}
			return (l + 3) / 4
		},
	}
}

// Rebuild merges stored turns with the incoming message(s) into one ordered
// conversation. Stored turns are expected in chronological order; entries
// without a sequence keep their relative order and incoming messages land at
// the end. Entries missing role or content are dropped and reported.
func (r *Reconstructor) Rebuild(stored []ports.Turn, incoming ...ports.Turn) ([]ports.Turn, RebuildStats) {
	stats := RebuildStats{}

	merged := make([]ports.Turn, 0, len(stored)+len(incoming))
	appendValid := func(origin string, turns []ports.Turn) {
		for i, turn := range turns {
			if turn.Role == "" || turn.Content == "" {
				stats.Warnings = append(stats.Warnings,
					fmt.Sprintf("malformed_history: %s entry %d missing role or content, dropped", origin, i))
				continue
			}
			merged = append(merged, turn)
		}
	}
	appendValid("stored", stored)
	appendValid("incoming", incoming)

	// Order by sequence where assigned; unsequenced entries trail in their
	// existing order.
	sort.SliceStable(merged, func(i, j int) bool {
		si, sj := merged[i].Sequence, merged[j].Sequence
		switch {
		case si > 0 && sj > 0:
			if si != sj {
				return si < sj
			}
			return merged[i].CreatedAt.Before(merged[j].CreatedAt)
		case si > 0:
			return true
		default:
			return false
		}
	})

	// Deduplicate exact (role, content, position) matches, keeping the
	// earliest. The bitmap answers "seen this sequence before" cheaply; the
	// index map resolves whether the earlier holder was the same message.
	seen := roaring64.New()
	bySequence := make(map[uint64]int)
	kept := merged[:0]
	for _, turn := range merged {
		if turn.Sequence > 0 {
			seq := uint64(turn.Sequence)
			if !seen.CheckedAdd(seq) {
				prior := kept[bySequence[seq]]
				if prior.Role == turn.Role && prior.Content == turn.Content {
					stats.DuplicatesRemoved++
					continue
				}
				stats.Warnings = append(stats.Warnings,
					fmt.Sprintf("sequence_collision: sequence %d carries two different messages", turn.Sequence))
				kept = append(kept, turn)
				continue
			}
			bySequence[seq] = len(kept)
			kept = append(kept, turn)
			continue
		}
		// Unsequenced: a resubmitted message is an exact duplicate of the
		// previous kept turn.
		if n := len(kept); n > 0 && kept[n-1].Sequence == 0 &&
			kept[n-1].Role == turn.Role && kept[n-1].Content == turn.Content {
			stats.DuplicatesRemoved++
			continue
		}
		kept = append(kept, turn)
	}

	r.checkAlternation(kept, &stats)
	kept = r.truncate(kept, &stats)

	stats.Total = len(kept)
	stats.EstimatedTokens = r.estimate(kept)
	return kept, stats
}

// checkAlternation records warnings for consecutive same-role turns. System
// preamble turns are exempt.
func (r *Reconstructor) checkAlternation(turns []ports.Turn, stats *RebuildStats) {
	prevRole := ""
	for i, turn := range turns {
		if turn.Role == "system" {
			continue
		}
		if turn.Role == prevRole {
			stats.Warnings = append(stats.Warnings,
				fmt.Sprintf("role_alternation: consecutive %q turns at position %d", turn.Role, i))
		}
		prevRole = turn.Role
	}
}

// truncate drops turns from the oldest-middle region until the estimate
// fits the budget. Leading system turns and the most recent MinRecentTurns
// always survive.
func (r *Reconstructor) truncate(turns []ports.Turn, stats *RebuildStats) []ports.Turn {
	if r.budget.MaxContextTokens <= 0 {
		return turns
	}

	preamble := 0
	for preamble < len(turns) && turns[preamble].Role == "system" {
		preamble++
	}

	for r.estimate(turns) > r.budget.MaxContextTokens {
		cut := preamble
		if cut >= len(turns)-r.budget.MinRecentTurns {
			break // nothing left but preamble and the protected tail
		}
		turns = append(turns[:cut:cut], turns[cut+1:]...)
		stats.Truncated = true
	}
	return turns
}

func (r *Reconstructor) estimate(turns []ports.Turn) int {
	total := 0
	for _, turn := range turns {
		// Small per-turn overhead for role tags and separators.
		total += r.TokenEstimator(turn.Content) + 4
	}
	return total
}
