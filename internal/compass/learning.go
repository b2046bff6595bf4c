package compass

import (
	"math"
	"time"
)

// LearningRate is the EMA step applied per swipe
const LearningRate = 0.05

// UpdatePreferenceVector moves current towards target on connect and away
// from it on skip, then normalizes. current is left untouched.
func UpdatePreferenceVector(current, target []float64, action SwipeAction, alpha float64) []float64 {
	next := make([]float64, len(current))
	for i := range current {
		var t float64
		if i < len(target) {
			t = target[i]
		}
		switch action {
		case ActionConnect:
			next[i] = current[i]*(1-alpha) + t*alpha
		case ActionSkip:
			next[i] = current[i]*(1+alpha) - t*alpha
		default:
			next[i] = current[i]
		}
	}
	normalizeInPlace(next)
	return next
}

// L1Delta is Σ|a_i − b_i|
func L1Delta(a, b []float64) float64 {
	var sum float64
	for i := range a {
		var v float64
		if i < len(b) {
			v = b[i]
		}
		sum += math.Abs(a[i] - v)
	}
	return sum
}

// LearningStep describes one applied update
type LearningStep struct {
	Applied bool
	Reason  string
	L1Delta float64
}

const (
	skipNoVector    = "requester has no preference vector"
	skipNoInterests = "target has no interests"
)

// SwipeProcessor is the online learner behind connect/skip feedback
type SwipeProcessor struct {
	encoder *Encoder
	alpha   float64
}

func NewSwipeProcessor(encoder *Encoder) *SwipeProcessor {
	return &SwipeProcessor{encoder: encoder, alpha: LearningRate}
}

// Ready reports whether a learning step may run for this pair and, if not,
// why.
func (p *SwipeProcessor) Ready(requester, target *Profile) (bool, string) {
	if !requester.Compass.HasPreferenceVector() {
		return false, skipNoVector
	}
	if !target.DNA.HasInterests() {
		return false, skipNoInterests
	}
	return true, ""
}

// Apply mutates requester in place: the learned vector and its timestamp
// when preconditions hold, and the seen entry for target regardless. The
// caller persists requester atomically.
func (p *SwipeProcessor) Apply(requester, target *Profile, action SwipeAction, now time.Time) LearningStep {
	if requester.Compass.SeenProfileIDs == nil {
		requester.Compass.SeenProfileIDs = SeenRegistry{}
	}
	requester.Compass.SeenProfileIDs.Mark(target.UID, now)

	if ok, reason := p.Ready(requester, target); !ok {
		return LearningStep{Reason: reason}
	}

	current := requester.Compass.PreferenceVector[:VectorSize]
	next := UpdatePreferenceVector(current, p.encoder.Encode(&target.DNA), action, p.alpha)

	requester.Compass.PreferenceVector = next
	requester.Compass.LastLearningUpdate = now

	return LearningStep{Applied: true, L1Delta: L1Delta(next, current)}
}
