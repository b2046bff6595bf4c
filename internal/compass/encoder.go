package compass

import (
	"fmt"
	"hash/fnv"
	"math"
)

const (
	VectorSize = 128

	archetypeOffset = 0
	tempoOffset     = 4
	intentOffset    = 7
	interestOffset  = 10
	InterestSlots   = VectorSize - interestOffset // 118

	tempoValue        = 0.8
	intentValue       = 0.8
	intentBothValue   = 0.5
	inPersonBonus     = 1.1
	interestBaseValue = 1.0
)

var archetypeIndex = map[Archetype]int{
	ArchetypeCreator:     0,
	ArchetypeExplorer:    1,
	ArchetypeOrganizer:   2,
	ArchetypeParticipant: 3,
}

var tempoIndex = map[SocialTempo]int{
	TempoOneOnOne:   0,
	TempoSmallGroup: 1,
	TempoLargeGroup: 2,
}

// index 9 is reserved for "both", which is spread over 7 and 8 instead
var intentIndex = map[ConnectionIntent]int{
	IntentSpontaneous: 0,
	IntentPlanned:     1,
	IntentBoth:        2,
}

var passionMultiplier = map[Passion]float64{
	PassionCasual:     1.0,
	PassionPassionate: 1.5,
	PassionPro:        2.0,
}

// defaultInterestCatalog seeds the registry. Order is the slot assignment,
// so entries are only ever appended.
var defaultInterestCatalog = []string{
	"hiking", "climbing", "running", "cycling", "yoga", "swimming", "surfing", "skiing",
	"football", "basketball", "tennis", "chess", "board games", "video games", "tabletop rpg",
	"photography", "painting", "drawing", "writing", "poetry", "film", "theatre", "dance",
	"music production", "guitar", "piano", "singing", "concerts", "jazz", "electronic music",
	"cooking", "baking", "coffee", "wine", "street food", "travel", "languages", "reading",
	"book club", "history", "philosophy", "science", "astronomy", "coding", "startups",
	"design", "fashion", "gardening", "volunteering", "pets", "meditation", "fitness",
	"podcasts", "anime", "comics", "karaoke", "trivia", "crafts", "diy", "camping",
}

// InterestRegistry maps a normalized tag to a reserved interest slot in
// [0, InterestSlots). Several tags may share a slot (synonyms). Tags that
// are not registered fall back to a stable hash.
type InterestRegistry struct {
	slots map[string]int
}

// NewInterestRegistry builds a registry from the built-in catalog plus
// extra, which may override catalog entries.
func NewInterestRegistry(extra map[string]int) (*InterestRegistry, error) {
	r := &InterestRegistry{slots: make(map[string]int, len(defaultInterestCatalog)+len(extra))}
	for i, tag := range defaultInterestCatalog {
		r.slots[NormalizeTag(tag)] = i % InterestSlots
	}
	for tag, slot := range extra {
		if slot < 0 || slot >= InterestSlots {
			return nil, fmt.Errorf("interest %q: slot %d out of range [0,%d)", tag, slot, InterestSlots)
		}
		r.slots[NormalizeTag(tag)] = slot
	}
	return r, nil
}

// Slot returns the interest slot for tag and whether it was registered
func (r *InterestRegistry) Slot(tag string) (int, bool) {
	tag = NormalizeTag(tag)
	if slot, ok := r.slots[tag]; ok {
		return slot, true
	}
	return hashSlot(tag), false
}

func hashSlot(tag string) int {
	h := fnv.New32a()
	h.Write([]byte(tag))
	return int(h.Sum32() % InterestSlots)
}

// Encoder turns DNA into a fixed-length vector. It is pure for a given
// registry.
type Encoder struct {
	registry *InterestRegistry
}

func NewEncoder(registry *InterestRegistry) *Encoder {
	return &Encoder{registry: registry}
}

// Encode returns the L2-normalized VectorSize vector for dna, or the zero
// vector when dna carries no signal.
func (e *Encoder) Encode(dna *DNA) []float64 {
	vec := make([]float64, VectorSize)

	if i, ok := archetypeIndex[dna.Archetype]; ok {
		vec[archetypeOffset+i] = 1.0
	}

	if i, ok := tempoIndex[dna.SocialTempo]; ok {
		vec[tempoOffset+i] = tempoValue
	}

	switch dna.ConnectionIntent {
	case IntentBoth:
		vec[intentOffset+intentIndex[IntentSpontaneous]] = intentBothValue
		vec[intentOffset+intentIndex[IntentPlanned]] = intentBothValue
	case IntentSpontaneous, IntentPlanned:
		vec[intentOffset+intentIndex[dna.ConnectionIntent]] = intentValue
	}

	for _, interest := range dna.CoreInterests {
		tag := NormalizeTag(interest.Tag)
		if tag == "" {
			continue
		}
		slot, _ := e.registry.Slot(tag)
		idx := interestOffset + slot
		if value := interestValue(interest); value > vec[idx] {
			vec[idx] = value
		}
	}

	normalizeInPlace(vec)
	return vec
}

func interestValue(interest Interest) float64 {
	multiplier, ok := passionMultiplier[interest.Passion]
	if !ok {
		multiplier = 1.0
	}
	value := interestBaseValue * multiplier
	if interest.Type == InterestInPerson {
		value *= inPersonBonus
	}
	return value
}

// Normalize returns a unit-length copy of v; a zero vector is returned as is
func Normalize(v []float64) []float64 {
	out := append([]float64(nil), v...)
	normalizeInPlace(out)
	return out
}

func normalizeInPlace(v []float64) {
	norm := Magnitude(v)
	if norm == 0 {
		return
	}
	for i := range v {
		v[i] /= norm
	}
}

// Magnitude is the Euclidean norm of v
func Magnitude(v []float64) float64 {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	return math.Sqrt(sum)
}
