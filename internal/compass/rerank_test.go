package compass

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type shape struct {
	archetype Archetype
	primary   string
}

func scoredList(shapes ...shape) []*ScoredCandidate {
	out := make([]*ScoredCandidate, 0, len(shapes))
	for i, s := range shapes {
		out = append(out, &ScoredCandidate{
			Profile: newProfile(fmt.Sprintf("c%02d", i), s.archetype, s.primary),
			Score:   float64(100 - i),
		})
	}
	return out
}

func repeat(n int, s shape) []shape {
	out := make([]shape, n)
	for i := range out {
		out[i] = s
	}
	return out
}

func TestDiversityReranker_ShortInputUnchanged(t *testing.T) {
	in := scoredList(repeat(DiscoverLimit, shape{ArchetypeCreator, "hiking"})...)

	out := NewDiversityReranker().Rerank(in, DiscoverLimit)

	assert.Equal(t, in, out)
}

func TestDiversityReranker_Diversifies(t *testing.T) {
	shapes := repeat(15, shape{ArchetypeCreator, "hiking"})
	shapes = append(shapes,
		shape{ArchetypeExplorer, "chess"},
		shape{ArchetypeOrganizer, "film"},
		shape{ArchetypeParticipant, "yoga"},
		shape{ArchetypeExplorer, "chess"},
		shape{ArchetypeExplorer, "surfing"},
	)
	in := scoredList(shapes...)

	out := NewDiversityReranker().Rerank(in, DiscoverLimit)
	require.Len(t, out, DiscoverLimit)

	// seed keeps the top five in order
	for i := 0; i < rerankSeed; i++ {
		assert.Same(t, in[i], out[i])
	}

	assert.Equal(t, []string{"c15", "c16", "c17", "c19", "c05"}, uids(profilesOf(out[rerankSeed:])))

	archetypes := map[Archetype]struct{}{}
	for _, c := range out {
		archetypes[c.Profile.DNA.Archetype] = struct{}{}
	}
	assert.GreaterOrEqual(t, len(archetypes), 3)
}

func TestDiversityReranker_BackfillsByScore(t *testing.T) {
	in := scoredList(repeat(14, shape{ArchetypeCreator, "hiking"})...)

	out := NewDiversityReranker().Rerank(in, DiscoverLimit)

	require.Len(t, out, DiscoverLimit)
	for i := range out {
		assert.Same(t, in[i], out[i])
	}
}

func TestDiversityReranker_NeverExceedsLimit(t *testing.T) {
	archetypes := []Archetype{ArchetypeCreator, ArchetypeExplorer, ArchetypeOrganizer, ArchetypeParticipant}
	shapes := make([]shape, 0, 40)
	for i := 0; i < 40; i++ {
		shapes = append(shapes, shape{archetypes[i%len(archetypes)], fmt.Sprintf("tag%d", i)})
	}

	out := NewDiversityReranker().Rerank(scoredList(shapes...), DiscoverLimit)

	assert.Len(t, out, DiscoverLimit)
}

func profilesOf(scored []*ScoredCandidate) []*Profile {
	out := make([]*Profile, 0, len(scored))
	for _, c := range scored {
		out = append(out, c.Profile)
	}
	return out
}
