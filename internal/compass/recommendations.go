// internal/compass/recommendations.go

package compass

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"
)

const defaultScoringWorkers = 8

type RecommendationEngine struct {
	generator *CandidateGenerator
	scorer    *CompatibilityScorer
	encoder   *Encoder
	reranker  *DiversityReranker
	workers   int
}

func NewRecommendationEngine(generator *CandidateGenerator, scorer *CompatibilityScorer, encoder *Encoder, reranker *DiversityReranker, workers int) *RecommendationEngine {
	if workers <= 0 {
		workers = defaultScoringWorkers
	}
	return &RecommendationEngine{
		generator: generator,
		scorer:    scorer,
		encoder:   encoder,
		reranker:  reranker,
		workers:   workers,
	}
}

// Recommend runs generate, score, fuse and rerank for requester. Any failure
// fails the whole ranking.
func (r *RecommendationEngine) Recommend(ctx context.Context, requester *Profile, filter string) ([]Match, int, error) {
	candidates, err := r.generator.Generate(ctx, requester, filter)
	if err != nil {
		return nil, 0, err
	}

	scored, err := r.scoreAll(ctx, requester, candidates)
	if err != nil {
		return nil, len(candidates), err
	}

	top := r.reranker.Rerank(scored, DiscoverLimit)

	matches := make([]Match, 0, len(top))
	for _, c := range top {
		shared := c.Factors.SharedInterests
		if shared == nil {
			shared = []string{}
		}
		matches = append(matches, Match{
			Profile:         Redact(c.Profile, shared),
			Score:           round2(c.Score),
			DNAScore:        round2(c.DNAScore),
			PreferenceScore: round2(c.PreferenceScore),
			SharedInterests: shared,
			SparkTitle:      sparkTitle(requester, c),
		})
	}

	return matches, len(candidates), nil
}

// requesterVector falls back to the DNA encoding onboarding would have stored
func (r *RecommendationEngine) requesterVector(requester *Profile) []float64 {
	if requester.Compass.HasPreferenceVector() {
		return requester.Compass.PreferenceVector[:VectorSize]
	}
	return r.encoder.Encode(&requester.DNA)
}

func (r *RecommendationEngine) scoreAll(ctx context.Context, requester *Profile, candidates []*Profile) ([]*ScoredCandidate, error) {
	preference := r.requesterVector(requester)
	scored := make([]*ScoredCandidate, len(candidates))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)

	for i, candidate := range candidates {
		i, candidate := i, candidate
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return fmt.Errorf("score %s: %w", candidate.UID, err)
			}
			dnaScore, factors := r.scorer.ScoreWithFactors(&requester.DNA, &candidate.DNA)
			prefScore := PreferenceScore(preference, r.encoder.Encode(&candidate.DNA))
			scored[i] = &ScoredCandidate{
				Profile:         candidate,
				Score:           FuseScores(dnaScore, prefScore),
				DNAScore:        dnaScore,
				PreferenceScore: prefScore,
				Factors:         factors,
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})

	for _, c := range scored {
		RecordMatchScore(c.Score)
	}

	return scored, nil
}

// sparkTitle is the one-line reason shown on a match card
func sparkTitle(requester *Profile, c *ScoredCandidate) string {
	shared := c.Factors.SharedInterests
	switch {
	case len(shared) >= 2:
		return fmt.Sprintf("You both love %s and %s", shared[0], shared[1])
	case len(shared) == 1:
		return fmt.Sprintf("You both love %s", shared[0])
	}

	a, b := requester.DNA.Archetype, c.Profile.DNA.Archetype
	if a != "" && b != "" && compatibleArchetypes[a][b] {
		if a == b {
			return fmt.Sprintf("Two %ss", titleCase(string(a)))
		}
		return fmt.Sprintf("%s meets %s", titleCase(string(a)), titleCase(string(b)))
	}

	if c.Factors.SocialTempo != nil && *c.Factors.SocialTempo == tempoWeight {
		return "Same social rhythm"
	}

	return "A fresh perspective"
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func round2(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}
