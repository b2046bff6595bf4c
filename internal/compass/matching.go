package compass

import "math"

const (
	interestsWeight  = 40.0
	archetypeWeight  = 20.0
	tempoWeight      = 20.0
	intentWeight     = 10.0
	languagesWeight  = 10.0
	partialCredit    = 0.3
	tempoStepPenalty = 0.3
	passionBonusStep = 0.1
	passionBonusCap  = 0.3

	// NeutralScore is returned when no factor applies to a pair
	NeutralScore = 50.0

	LongTermWeight  = 0.65
	ShortTermWeight = 0.35
)

var compatibleArchetypes = map[Archetype]map[Archetype]bool{
	ArchetypeCreator:     {ArchetypeExplorer: true, ArchetypeParticipant: true, ArchetypeCreator: true},
	ArchetypeExplorer:    {ArchetypeCreator: true, ArchetypeOrganizer: true, ArchetypeExplorer: true},
	ArchetypeOrganizer:   {ArchetypeParticipant: true, ArchetypeExplorer: true, ArchetypeOrganizer: true},
	ArchetypeParticipant: {ArchetypeOrganizer: true, ArchetypeCreator: true, ArchetypeParticipant: true},
}

var tempoOrder = map[SocialTempo]int{
	TempoOneOnOne:   0,
	TempoSmallGroup: 1,
	TempoLargeGroup: 2,
}

// CompatibilityFactors is the per-factor contribution in weight units. A nil
// pointer means the factor did not apply to the pair.
type CompatibilityFactors struct {
	Interests       *float64 `json:"interests,omitempty"`
	Archetype       *float64 `json:"archetype,omitempty"`
	SocialTempo     *float64 `json:"social_tempo,omitempty"`
	Intent          *float64 `json:"intent,omitempty"`
	Languages       *float64 `json:"languages,omitempty"`
	SharedInterests []string `json:"shared_interests,omitempty"`
}

// CompatibilityScorer scores the static compatibility of two DNA profiles
type CompatibilityScorer struct{}

func NewCompatibilityScorer() *CompatibilityScorer {
	return &CompatibilityScorer{}
}

// Score returns the static compatibility of a and b in [0, 100]
func (s *CompatibilityScorer) Score(a, b *DNA) float64 {
	score, _ := s.ScoreWithFactors(a, b)
	return score
}

// ScoreWithFactors returns the score along with each applied contribution.
// The interest contribution can exceed its weight; only the final score is
// clamped.
func (s *CompatibilityScorer) ScoreWithFactors(a, b *DNA) (float64, *CompatibilityFactors) {
	factors := &CompatibilityFactors{}
	var total, applied float64

	if len(a.CoreInterests) > 0 && len(b.CoreInterests) > 0 {
		contribution, shared := interestContribution(a, b)
		factors.Interests = ptr(contribution)
		factors.SharedInterests = shared
		total += contribution
		applied += interestsWeight
	}

	if a.Archetype != "" && b.Archetype != "" {
		contribution := archetypeWeight * partialCredit
		if compatibleArchetypes[a.Archetype][b.Archetype] {
			contribution = archetypeWeight
		}
		factors.Archetype = ptr(contribution)
		total += contribution
		applied += archetypeWeight
	}

	if a.SocialTempo != "" && b.SocialTempo != "" {
		contribution := tempoContribution(a.SocialTempo, b.SocialTempo)
		factors.SocialTempo = ptr(contribution)
		total += contribution
		applied += tempoWeight
	}

	if a.ConnectionIntent != "" && b.ConnectionIntent != "" {
		contribution := intentWeight * partialCredit
		if a.ConnectionIntent == b.ConnectionIntent || a.ConnectionIntent == IntentBoth || b.ConnectionIntent == IntentBoth {
			contribution = intentWeight
		}
		factors.Intent = ptr(contribution)
		total += contribution
		applied += intentWeight
	}

	if len(a.Languages) > 0 && len(b.Languages) > 0 {
		contribution := 0.0
		if sharesLanguage(a.Languages, b.Languages) {
			contribution = languagesWeight
		}
		factors.Languages = ptr(contribution)
		total += contribution
		applied += languagesWeight
	}

	if applied == 0 {
		return NeutralScore, factors
	}

	return clamp(total/applied*100, 0, 100), factors
}

// interestContribution returns (overlap + passion bonus) × weight and the
// shared tags in a's listing order.
func interestContribution(a, b *DNA) (float64, []string) {
	setA := a.InterestSet()
	setB := b.InterestSet()
	if len(setA) == 0 || len(setB) == 0 {
		return 0, nil
	}

	var shared []string
	bonus := 0.0
	for _, interest := range a.CoreInterests {
		tag := NormalizeTag(interest.Tag)
		other, ok := setB[tag]
		if !ok || containsString(shared, tag) {
			continue
		}
		shared = append(shared, tag)
		if setA[tag].Passion != "" && setA[tag].Passion == other.Passion {
			bonus += passionBonusStep
		}
	}
	if bonus > passionBonusCap {
		bonus = passionBonusCap
	}

	overlap := float64(len(shared)) / float64(minInt(len(setA), len(setB)))
	return (overlap + bonus) * interestsWeight, shared
}

func tempoContribution(a, b SocialTempo) float64 {
	if a == b {
		return tempoWeight
	}
	ia, okA := tempoOrder[a]
	ib, okB := tempoOrder[b]
	if !okA || !okB {
		return 0
	}
	distance := math.Abs(float64(ia - ib))
	return math.Max(0, 1-distance*tempoStepPenalty) * tempoWeight
}

func sharesLanguage(a, b []string) bool {
	seen := make(map[string]struct{}, len(a))
	for _, lang := range a {
		seen[NormalizeTag(lang)] = struct{}{}
	}
	for _, lang := range b {
		if _, ok := seen[NormalizeTag(lang)]; ok {
			return true
		}
	}
	return false
}

// SharedInterests lists the tags both profiles carry, in a's order
func SharedInterests(a, b *DNA) []string {
	_, shared := interestContribution(a, b)
	return shared
}

// CosineSimilarity is in [-1, 1]; zero-magnitude or mismatched vectors give 0
func CosineSimilarity(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return clamp(dot/(math.Sqrt(na)*math.Sqrt(nb)), -1, 1)
}

// PreferenceScore rescales the cosine between the learned vector and an
// encoded candidate to [0, 100]. Undefined similarity scores 0.
func PreferenceScore(preference, candidate []float64) float64 {
	if Magnitude(preference) == 0 || Magnitude(candidate) == 0 || len(preference) != len(candidate) {
		return 0
	}
	return (CosineSimilarity(preference, candidate) + 1) / 2 * 100
}

// FuseScores blends long-term (DNA) and short-term (learned) signals
func FuseScores(dnaScore, preferenceScore float64) float64 {
	return dnaScore*LongTermWeight + preferenceScore*ShortTermWeight
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, v))
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func ptr[T any](v T) *T {
	return &v
}
