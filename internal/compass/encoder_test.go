package compass

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode_UnitNorm(t *testing.T) {
	enc := NewEncoder(testRegistry())

	dnas := []DNA{
		{Archetype: ArchetypeCreator},
		{SocialTempo: TempoLargeGroup, ConnectionIntent: IntentBoth},
		{CoreInterests: []Interest{interest("hiking", PassionPro, InterestInPerson)}},
		{
			Archetype:        ArchetypeExplorer,
			CoreInterests:    []Interest{interest("chess", PassionCasual, InterestOnline), interest("underwater basket weaving", PassionPassionate, InterestInPerson)},
			SocialTempo:      TempoOneOnOne,
			ConnectionIntent: IntentSpontaneous,
			Languages:        []string{"en"},
		},
	}

	for _, dna := range dnas {
		vec := enc.Encode(&dna)
		require.Len(t, vec, VectorSize)
		assert.InDelta(t, 1.0, Magnitude(vec), 1e-9)
	}
}

func TestEncode_NoSignalIsZeroVector(t *testing.T) {
	enc := NewEncoder(testRegistry())

	for _, dna := range []DNA{{}, {Archetype: "pirate", Languages: []string{"en"}}, {CoreInterests: []Interest{{Tag: "   "}}}} {
		vec := enc.Encode(&dna)
		require.Len(t, vec, VectorSize)
		assert.Zero(t, Magnitude(vec))
	}
}

func TestEncode_Layout(t *testing.T) {
	enc := NewEncoder(testRegistry())

	t.Run("archetype and tempo one-hot", func(t *testing.T) {
		vec := enc.Encode(&DNA{Archetype: ArchetypeOrganizer, SocialTempo: TempoLargeGroup})
		assert.Greater(t, vec[2], 0.0)
		assert.Greater(t, vec[6], 0.0)
		assert.InDelta(t, 1.0/0.8, vec[2]/vec[6], 1e-9)
		for _, i := range []int{0, 1, 3, 4, 5} {
			assert.Zero(t, vec[i], "index %d", i)
		}
	})

	t.Run("intent both spreads over spontaneous and planned", func(t *testing.T) {
		vec := enc.Encode(&DNA{ConnectionIntent: IntentBoth})
		assert.Greater(t, vec[7], 0.0)
		assert.Equal(t, vec[7], vec[8])
		assert.Zero(t, vec[9])
	})

	t.Run("exact intent", func(t *testing.T) {
		vec := enc.Encode(&DNA{ConnectionIntent: IntentPlanned})
		assert.InDelta(t, 1.0, vec[8], 1e-9)
		assert.Zero(t, vec[7])
	})
}

func TestEncode_CollisionsKeepMaximum(t *testing.T) {
	registry, err := NewInterestRegistry(map[string]int{"hiking": 0, "trekking": 0})
	require.NoError(t, err)
	enc := NewEncoder(registry)

	vec := enc.Encode(&DNA{
		Archetype: ArchetypeCreator,
		CoreInterests: []Interest{
			interest("hiking", PassionCasual, InterestOnline),
			interest("Trekking", PassionPro, InterestInPerson),
		},
	})

	// pro × in-person = 2.2 against the archetype's 1.0; a sum would give 3.2
	assert.InDelta(t, 2.2, vec[interestOffset]/vec[archetypeOffset], 1e-9)
}

func TestEncode_Deterministic(t *testing.T) {
	dna := newProfile("a", ArchetypeParticipant, "film", "jazz", "some niche thing").DNA

	first := NewEncoder(testRegistry()).Encode(&dna)
	second := NewEncoder(testRegistry()).Encode(&dna)

	assert.Equal(t, first, second)
}

func TestInterestRegistry(t *testing.T) {
	t.Run("catalog lookup ignores case and spacing", func(t *testing.T) {
		r := testRegistry()
		slot, ok := r.Slot("  Hiking ")
		assert.True(t, ok)
		assert.Equal(t, 0, slot)
	})

	t.Run("unregistered tags hash into range", func(t *testing.T) {
		r := testRegistry()
		slot, ok := r.Slot("competitive origami")
		assert.False(t, ok)
		assert.GreaterOrEqual(t, slot, 0)
		assert.Less(t, slot, InterestSlots)

		again, _ := r.Slot("Competitive Origami")
		assert.Equal(t, slot, again)
	})

	t.Run("extra entries override the catalog", func(t *testing.T) {
		r, err := NewInterestRegistry(map[string]int{"chess": 117})
		require.NoError(t, err)
		slot, ok := r.Slot("chess")
		assert.True(t, ok)
		assert.Equal(t, 117, slot)
	})

	t.Run("out of range slot is rejected", func(t *testing.T) {
		_, err := NewInterestRegistry(map[string]int{"chess": InterestSlots})
		assert.Error(t, err)
		_, err = NewInterestRegistry(map[string]int{"chess": -1})
		assert.Error(t, err)
	})
}

func TestNormalize(t *testing.T) {
	v := []float64{3, 4}
	n := Normalize(v)

	assert.InDeltaSlice(t, []float64{0.6, 0.8}, n, 1e-12)
	assert.Equal(t, []float64{3, 4}, v)
	assert.Equal(t, []float64{0, 0}, Normalize([]float64{0, 0}))
}
