package compass

const (
	// DiscoverLimit caps a discovery response
	DiscoverLimit = 10
	rerankSeed    = 5
)

// ScoredCandidate is a pool member after fusion
type ScoredCandidate struct {
	Profile         *Profile
	Score           float64
	DNAScore        float64
	PreferenceScore float64
	Factors         *CompatibilityFactors
}

// DiversityReranker spreads the head of a ranking across archetypes and
// primary interests. Seeding keeps the strongest matches on top; the rest of
// the slots prefer profiles that add an archetype or primary interest not yet
// present, then backfill by score.
type DiversityReranker struct {
	seed int
}

func NewDiversityReranker() *DiversityReranker {
	return &DiversityReranker{seed: rerankSeed}
}

// Rerank expects scored sorted by descending Score. Equal scores keep their
// input order.
func (d *DiversityReranker) Rerank(scored []*ScoredCandidate, limit int) []*ScoredCandidate {
	if limit <= 0 {
		limit = DiscoverLimit
	}
	if len(scored) <= limit {
		return scored
	}

	result := make([]*ScoredCandidate, 0, limit)
	included := make([]bool, len(scored))
	archetypes := make(map[Archetype]struct{})
	primaries := make(map[string]struct{})

	admit := func(i int) {
		c := scored[i]
		result = append(result, c)
		included[i] = true
		archetypes[c.Profile.DNA.Archetype] = struct{}{}
		primaries[c.Profile.DNA.PrimaryInterest()] = struct{}{}
	}

	seed := minInt(d.seed, limit)
	for i := 0; i < seed; i++ {
		admit(i)
	}

	for i := seed; i < len(scored) && len(result) < limit; i++ {
		dna := &scored[i].Profile.DNA
		_, knownArchetype := archetypes[dna.Archetype]
		_, knownPrimary := primaries[dna.PrimaryInterest()]
		if !knownArchetype || !knownPrimary {
			admit(i)
		}
	}

	for i := seed; i < len(scored) && len(result) < limit; i++ {
		if !included[i] {
			result = append(result, scored[i])
			included[i] = true
		}
	}

	return result
}
