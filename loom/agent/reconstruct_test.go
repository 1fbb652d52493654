package agent

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ports "github.com/taskloom/taskloom/loom/agent/ports"
)

func turn(role, content string, seq int64) ports.Turn {
	return ports.Turn{Role: role, Content: content, Sequence: seq, CreatedAt: time.Unix(seq, 0)}
}

func TestRebuildEmptyHistory(t *testing.T) {
	r := NewReconstructor(Budget{MaxContextTokens: 4000})

	merged, stats := r.Rebuild(nil, ports.Turn{Role: "user", Content: "Add task buy milk"})

	require.Len(t, merged, 1)
	assert.Equal(t, "user", merged[0].Role)
	assert.Equal(t, "Add task buy milk", merged[0].Content)
	assert.Equal(t, 1, stats.Total)
	assert.Zero(t, stats.DuplicatesRemoved)
	assert.False(t, stats.Truncated)
	assert.Empty(t, stats.Warnings)
}

func TestRebuildPreservesOrderAndAppendsIncoming(t *testing.T) {
	r := NewReconstructor(Budget{MaxContextTokens: 4000})

	stored := []ports.Turn{
		turn("user", "hello", 1),
		turn("assistant", "hi, what can I do?", 2),
		turn("user", "list my tasks", 3),
	}
	merged, stats := r.Rebuild(stored, ports.Turn{Role: "user", Content: "actually, add one"})

	require.Len(t, merged, 4)
	for i, want := range []string{"hello", "hi, what can I do?", "list my tasks", "actually, add one"} {
		assert.Equal(t, want, merged[i].Content)
	}
	// Stored turns keep ascending sequence order.
	for i := 1; i < 3; i++ {
		assert.Less(t, merged[i-1].Sequence, merged[i].Sequence)
	}
	// Back-to-back user turns from the append are a warning, not an error.
	assert.NotEmpty(t, stats.Warnings)
}

func TestRebuildSortsOutOfOrderSequences(t *testing.T) {
	r := NewReconstructor(Budget{MaxContextTokens: 4000})

	stored := []ports.Turn{
		turn("assistant", "second", 2),
		turn("user", "first", 1),
		turn("user", "third", 3),
	}
	merged, _ := r.Rebuild(stored)

	require.Len(t, merged, 3)
	assert.Equal(t, "first", merged[0].Content)
	assert.Equal(t, "second", merged[1].Content)
	assert.Equal(t, "third", merged[2].Content)
}

func TestRebuildRemovesExactDuplicates(t *testing.T) {
	r := NewReconstructor(Budget{MaxContextTokens: 4000})

	stored := []ports.Turn{
		turn("user", "hello", 1),
		turn("user", "hello", 1), // same role, content, position
		turn("assistant", "hi", 2),
	}
	merged, stats := r.Rebuild(stored)

	require.Len(t, merged, 2)
	assert.Equal(t, 1, stats.DuplicatesRemoved)
	assert.Equal(t, "hello", merged[0].Content)
	assert.Equal(t, "hi", merged[1].Content)
}

func TestRebuildSequenceCollisionIsWarningNotDrop(t *testing.T) {
	r := NewReconstructor(Budget{MaxContextTokens: 4000})

	stored := []ports.Turn{
		turn("user", "version one", 5),
		turn("user", "version two", 5),
	}
	merged, stats := r.Rebuild(stored)

	// Different content at the same position: keep both, flag it.
	require.Len(t, merged, 2)
	assert.Zero(t, stats.DuplicatesRemoved)
	require.NotEmpty(t, stats.Warnings)
	assert.Contains(t, stats.Warnings[0], "sequence_collision")
}

func TestRebuildDropsMalformedEntries(t *testing.T) {
	r := NewReconstructor(Budget{MaxContextTokens: 4000})

	stored := []ports.Turn{
		turn("user", "fine", 1),
		{Role: "", Content: "no role", Sequence: 2},
		{Role: "assistant", Content: "", Sequence: 3},
		turn("user", "also fine", 4),
	}
	merged, stats := r.Rebuild(stored)

	require.Len(t, merged, 2)
	assert.Equal(t, "fine", merged[0].Content)
	assert.Equal(t, "also fine", merged[1].Content)

	malformed := 0
	for _, w := range stats.Warnings {
		if strings.Contains(w, "malformed_history") {
			malformed++
		}
	}
	assert.Equal(t, 2, malformed)
}

func TestRebuildIdempotent(t *testing.T) {
	r := NewReconstructor(Budget{MaxContextTokens: 4000})

	stored := []ports.Turn{
		turn("user", "one", 1),
		turn("assistant", "two", 2),
		turn("user", "one", 1), // duplicate
	}
	incoming := ports.Turn{Role: "user", Content: "three"}

	first, firstStats := r.Rebuild(stored, incoming)
	second, secondStats := r.Rebuild(stored, incoming)

	assert.Equal(t, first, second)
	assert.Equal(t, firstStats, secondStats)
}

func TestRebuildNoIdenticalTriples(t *testing.T) {
	r := NewReconstructor(Budget{MaxContextTokens: 4000})

	// A messy history with duplicates sprinkled in.
	var stored []ports.Turn
	for i := int64(1); i <= 10; i++ {
		role := "user"
		if i%2 == 0 {
			role = "assistant"
		}
		stored = append(stored, turn(role, fmt.Sprintf("msg %d", i), i))
		if i%3 == 0 {
			stored = append(stored, turn(role, fmt.Sprintf("msg %d", i), i))
		}
	}
	merged, stats := r.Rebuild(stored)

	type key struct {
		role, content string
		seq           int64
	}
	seen := map[key]bool{}
	for _, m := range merged {
		k := key{m.Role, m.Content, m.Sequence}
		assert.False(t, seen[k], "duplicate (role, content, sequence) survived: %+v", k)
		seen[k] = true
	}
	assert.Equal(t, 3, stats.DuplicatesRemoved)
}

func TestRebuildTruncatesOldestMiddle(t *testing.T) {
	r := NewReconstructor(Budget{MaxContextTokens: 60, MinRecentTurns: 2})

	stored := []ports.Turn{
		turn("system", "You manage tasks.", 1),
		turn("user", strings.Repeat("old words ", 10), 2),
		turn("assistant", strings.Repeat("older reply ", 10), 3),
		turn("user", "recent question", 4),
		turn("assistant", "recent answer", 5),
	}
	merged, stats := r.Rebuild(stored)

	assert.True(t, stats.Truncated)
	// System preamble survives.
	assert.Equal(t, "system", merged[0].Role)
	// The most recent turns survive.
	last := merged[len(merged)-1]
	assert.Equal(t, "recent answer", last.Content)
	assert.LessOrEqual(t, stats.EstimatedTokens, 60+len("recent question")/4+8)
	// The oldest middle turns are the casualties.
	for _, m := range merged {
		assert.NotContains(t, m.Content, "old words")
	}
}

func TestRebuildNeverMutatesContent(t *testing.T) {
	r := NewReconstructor(Budget{MaxContextTokens: 4000})

	content := "  spacing and CASE preserved\t"
	merged, _ := r.Rebuild([]ports.Turn{turn("user", content, 1)})

	require.Len(t, merged, 1)
	assert.Equal(t, content, merged[0].Content)
}
