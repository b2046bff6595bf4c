// internal/compass/service.go

package compass

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/imadgeboyega/kiekky-compass/internal/common/utils"
	"github.com/imadgeboyega/kiekky-compass/internal/logging"
)

var (
	ErrProfileNotFound      = errors.New("profile not found")
	ErrTargetNotFound       = errors.New("target profile not found")
	ErrRequiresTokens       = errors.New("connect requires tokens")
	ErrInvalidAction        = errors.New("action must be connect or skip")
	ErrCannotSwipeSelf      = errors.New("cannot swipe on yourself")
	ErrOnboardingIncomplete = errors.New("profile has no interests yet")
	ErrConcurrentUpdate     = errors.New("profile changed concurrently")
	ErrInvalidEvent         = errors.New("invalid swipe event")
	ErrEventInFlight        = errors.New("swipe event is being applied elsewhere")
	ErrInvalidDNA           = errors.New("profile DNA is invalid")

	// errNoChange rolls back a MutateProfile callback without failing
	errNoChange = errors.New("no change")
)

const (
	mutateAttempts = 3
	refillLockTTL  = 23 * time.Hour
)

type Service interface {
	// Discovery
	Discover(ctx context.Context, uid string, interest string) (*DiscoverResponse, error)
	RecordShown(ctx context.Context, uid string, profileIDs []string) error

	// Swipes
	LogSwipe(ctx context.Context, uid string, dto *SwipeDTO) (*SwipeResult, error)
	HandleSwipeEvent(ctx context.Context, event *SwipeEvent) error

	// Lifecycle
	CompleteOnboarding(ctx context.Context, uid string) (*OnboardingResult, error)

	// Tokens
	GetTokens(ctx context.Context, uid string) (*TokensResponse, error)
	RefillTokens(ctx context.Context) error
}

// Options are the collaborators and knobs of the service. Zero values fall
// back to in-process defaults.
type Options struct {
	DiscoverTimeout time.Duration
	ScoringWorkers  int
	Deduper         Deduper
	JobLock         JobLock
	Notifier        Notifier
	Source          DiscoverableSource
	Now             func() time.Time
}

type service struct {
	repo            Repository
	encoder         *Encoder
	engine          *RecommendationEngine
	processor       *SwipeProcessor
	ledger          *TokenLedger
	deduper         Deduper
	jobLock         JobLock
	notifier        Notifier
	discoverTimeout time.Duration
	now             func() time.Time
}

func NewService(repo Repository, registry *InterestRegistry, opts Options) Service {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	source := opts.Source
	if source == nil {
		source = repo
	}
	deduper := opts.Deduper
	if deduper == nil {
		deduper = newMemoryDeduper()
	}
	jobLock := opts.JobLock
	if jobLock == nil {
		jobLock = NewLocalJobLock()
	}

	encoder := NewEncoder(registry)
	engine := NewRecommendationEngine(
		NewCandidateGenerator(source, now),
		NewCompatibilityScorer(),
		encoder,
		NewDiversityReranker(),
		opts.ScoringWorkers,
	)

	return &service{
		repo:            repo,
		encoder:         encoder,
		engine:          engine,
		processor:       NewSwipeProcessor(encoder),
		ledger:          NewTokenLedger(),
		deduper:         deduper,
		jobLock:         jobLock,
		notifier:        opts.Notifier,
		discoverTimeout: opts.DiscoverTimeout,
		now:             now,
	}
}

func (s *service) Discover(ctx context.Context, uid string, interest string) (*DiscoverResponse, error) {
	start := time.Now()
	defer func() { RecordResponseTime("discover", time.Since(start)) }()

	requester, err := s.repo.GetProfile(ctx, uid)
	if err != nil {
		RecordDiscoverRequest("error")
		return nil, err
	}

	if !requester.DNA.HasInterests() {
		RecordDiscoverRequest("needs_onboarding")
		return &DiscoverResponse{Status: StatusNeedsOnboarding, Matches: []Match{}}, nil
	}

	if s.discoverTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.discoverTimeout)
		defer cancel()
	}

	matches, poolSize, err := s.engine.Recommend(ctx, requester, interest)
	if err != nil {
		RecordDiscoverRequest("error")
		return nil, fmt.Errorf("discover for %s: %w", uid, err)
	}

	RecordCandidatePool(poolSize)
	RecordDiscoverRequest("ok")

	logging.Debug().
		Str("uid", uid).
		Str("interest", interest).
		Int("pool", poolSize).
		Int("matches", len(matches)).
		Msg("discovery ranked")

	return &DiscoverResponse{Status: StatusOK, Matches: matches}, nil
}

func (s *service) RecordShown(ctx context.Context, uid string, profileIDs []string) error {
	now := s.now()
	_, err := s.mutate(ctx, uid, func(p *Profile) error {
		if p.Compass.SeenProfileIDs == nil {
			p.Compass.SeenProfileIDs = SeenRegistry{}
		}
		for _, id := range profileIDs {
			if id == "" || id == uid {
				continue
			}
			p.Compass.SeenProfileIDs.Mark(id, now)
		}
		return nil
	})
	return err
}

// LogSwipe gates connect on tokens, then records the seen entry, the token
// spend and the learning step in one profile write.
func (s *service) LogSwipe(ctx context.Context, uid string, dto *SwipeDTO) (*SwipeResult, error) {
	if !dto.Action.Valid() {
		return nil, ErrInvalidAction
	}
	if dto.TargetID == uid {
		return nil, ErrCannotSwipeSelf
	}

	target, err := s.repo.GetProfile(ctx, dto.TargetID)
	if errors.Is(err, ErrProfileNotFound) {
		return nil, ErrTargetNotFound
	}
	if err != nil {
		return nil, err
	}

	now := s.now()
	var step LearningStep
	updated, err := s.mutate(ctx, uid, func(p *Profile) error {
		if dto.Action == ActionConnect {
			if err := s.ledger.Spend(p); err != nil {
				return err
			}
		}
		step = s.processor.Apply(p, target, dto.Action, now)
		return nil
	})
	if errors.Is(err, ErrRequiresTokens) {
		RecordSwipe(dto.Action, "requires_tokens")
		return nil, ErrRequiresTokens
	}
	if err != nil {
		RecordSwipe(dto.Action, "error")
		return nil, err
	}

	RecordSwipe(dto.Action, "ok")
	s.afterLearning(ctx, uid, target.UID, dto.Action, step, now)

	if dto.Action == ActionConnect && s.notifier != nil {
		s.notifier.NotifyConnectionRequest(target.UID, &ConnectionRequest{
			FromUID:     updated.UID,
			Username:    updated.Username,
			DisplayName: updated.DisplayName,
			PhotoURL:    updated.PhotoURL,
			SentAt:      now,
		})
	}

	return &SwipeResult{
		RemainingTokens: updated.Compass.ConnectionTokens.Count,
		Learned:         step.Applied,
	}, nil
}

// HandleSwipeEvent applies a delivered swipe once per event id. Unmet
// preconditions make it a no-op. The claim becomes permanent only after the
// apply; a failed apply releases it so a redelivery can retry, and a claim
// held by another attempt returns ErrEventInFlight so the delivery stays
// pending.
func (s *service) HandleSwipeEvent(ctx context.Context, event *SwipeEvent) error {
	if err := utils.ValidateStruct(event); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}

	state, err := s.deduper.Claim(ctx, event.EventID)
	if err != nil {
		RecordSwipeEvent("error")
		return err
	}
	switch state {
	case ClaimDone:
		RecordSwipeEvent("duplicate")
		logging.Debug().Str("event_id", event.EventID).Msg("duplicate swipe event ignored")
		return nil
	case ClaimInFlight:
		RecordSwipeEvent("in_flight")
		return fmt.Errorf("swipe event %s: %w", event.EventID, ErrEventInFlight)
	}

	outcome, err := s.applySwipeEvent(ctx, event)

	// the delivery context may be gone by now, e.g. on shutdown
	settleCtx, cancel := settleContext(ctx)
	defer cancel()

	if err != nil {
		if releaseErr := s.deduper.Release(settleCtx, event.EventID); releaseErr != nil {
			logging.Warn().Err(releaseErr).Str("event_id", event.EventID).Msg("release swipe event claim")
		}
		RecordSwipeEvent("error")
		return fmt.Errorf("swipe event %s: %w", event.EventID, err)
	}

	if err := s.deduper.Complete(settleCtx, event.EventID); err != nil {
		// the processing claim expires and a redelivery could apply again
		logging.Warn().Err(err).Str("event_id", event.EventID).Msg("confirm swipe event claim")
	}

	RecordSwipeEvent(outcome)
	return nil
}

func (s *service) applySwipeEvent(ctx context.Context, event *SwipeEvent) (string, error) {
	target, err := s.repo.GetProfile(ctx, event.TargetID)
	if errors.Is(err, ErrProfileNotFound) {
		logging.Info().Str("event_id", event.EventID).Str("target_id", event.TargetID).Msg("swipe event target gone, skipping")
		return "skipped", nil
	}
	if err != nil {
		return "", err
	}

	now := s.now()
	var step LearningStep
	_, err = s.mutate(ctx, event.SwiperID, func(p *Profile) error {
		if ok, reason := s.processor.Ready(p, target); !ok {
			step.Reason = reason
			return errNoChange
		}
		step = s.processor.Apply(p, target, event.Action, now)
		return nil
	})
	switch {
	case errors.Is(err, errNoChange):
		logging.Info().
			Str("event_id", event.EventID).
			Str("uid", event.SwiperID).
			Str("reason", step.Reason).
			Msg("swipe event skipped")
		return "skipped", nil
	case errors.Is(err, ErrProfileNotFound):
		logging.Info().Str("event_id", event.EventID).Str("uid", event.SwiperID).Msg("swipe event swiper gone, skipping")
		return "skipped", nil
	case err != nil:
		return "", err
	}

	s.afterLearning(ctx, event.SwiperID, target.UID, event.Action, step, now)
	return "applied", nil
}

// afterLearning emits the learning record once the profile write committed.
// Failures are logged only.
func (s *service) afterLearning(ctx context.Context, uid, targetID string, action SwipeAction, step LearningStep, now time.Time) {
	if !step.Applied {
		logging.Info().Str("uid", uid).Str("target_id", targetID).Str("reason", step.Reason).Msg("learning step skipped")
		return
	}

	RecordLearningDelta(step.L1Delta)

	err := s.repo.RecordLearningMetric(ctx, &LearningMetric{
		UID:       uid,
		TargetID:  targetID,
		Action:    action,
		L1Delta:   step.L1Delta,
		CreatedAt: now,
	})
	if err != nil {
		logging.Warn().Err(err).Str("uid", uid).Msg("record learning metric")
	}
}

// CompleteOnboarding stores the encoded DNA as the first preference vector.
// An existing vector is left alone.
func (s *service) CompleteOnboarding(ctx context.Context, uid string) (*OnboardingResult, error) {
	now := s.now()
	_, err := s.mutate(ctx, uid, func(p *Profile) error {
		if !p.DNA.HasInterests() {
			return ErrOnboardingIncomplete
		}
		if err := utils.ValidateStruct(&p.DNA); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidDNA, err)
		}
		if p.Compass.HasPreferenceVector() {
			return errNoChange
		}
		p.Compass.PreferenceVector = s.encoder.Encode(&p.DNA)
		p.Compass.LastLearningUpdate = now
		return nil
	})
	if errors.Is(err, errNoChange) {
		return &OnboardingResult{Initialized: false}, nil
	}
	if err != nil {
		return nil, err
	}

	logging.Info().Str("uid", uid).Msg("preference vector initialized")
	return &OnboardingResult{Initialized: true}, nil
}

func (s *service) GetTokens(ctx context.Context, uid string) (*TokensResponse, error) {
	p, err := s.repo.GetProfile(ctx, uid)
	if err != nil {
		return nil, err
	}
	return &TokensResponse{
		Count:       p.Compass.ConnectionTokens.Count,
		Max:         MaxTokens,
		RefreshedAt: p.Compass.ConnectionTokens.RefreshedAt,
	}, nil
}

// RefillTokens is the daily job. Re-running it is safe since counts clamp at
// MaxTokens; the lock only avoids redundant work across replicas.
func (s *service) RefillTokens(ctx context.Context) error {
	now := s.now()

	key := "token-refill:" + now.UTC().Format("2006-01-02")
	acquired, err := s.jobLock.Acquire(ctx, key, refillLockTTL)
	if err != nil {
		logging.Warn().Err(err).Msg("refill lock unavailable, refilling anyway")
	} else if !acquired {
		logging.Info().Str("key", key).Msg("token refill already ran")
		return nil
	}

	// a failed run gives the day back so a rerun can refill
	fail := func(err error) error {
		if acquired {
			s.releaseJobLock(ctx, key)
		}
		return err
	}

	profiles, err := s.repo.ListRefillCandidates(ctx, now.Add(-activityWindow))
	if err != nil {
		return fail(fmt.Errorf("list refill candidates: %w", err))
	}

	refills := ComputeRefills(profiles, now)
	conflicts, err := s.repo.ApplyTokenRefills(ctx, refills, now)
	if err != nil {
		return fail(fmt.Errorf("apply token refills: %w", err))
	}

	applied := len(refills) - len(conflicts)
	for _, conflict := range conflicts {
		RecordRefillConflict()
		if s.retryRefill(ctx, conflict.UID, now) {
			applied++
		}
	}

	RecordTokenRefills(applied)
	logging.Info().
		Int("candidates", len(profiles)).
		Int("refilled", applied).
		Int("conflicts", len(conflicts)).
		Msg("token refill completed")

	return nil
}

func (s *service) releaseJobLock(ctx context.Context, key string) {
	ctx, cancel := settleContext(ctx)
	defer cancel()
	if err := s.jobLock.Release(ctx, key); err != nil {
		logging.Warn().Err(err).Str("key", key).Msg("release job lock")
	}
}

func (s *service) retryRefill(ctx context.Context, uid string, now time.Time) bool {
	since := now.Add(-activityWindow)
	_, err := s.mutate(ctx, uid, func(p *Profile) error {
		if !p.Compass.Discoverable || !p.Compass.LastActiveTimestamp.After(since) {
			return errNoChange
		}
		if !s.ledger.Refill(p, now) {
			return errNoChange
		}
		return nil
	})
	if err != nil && !errors.Is(err, errNoChange) {
		logging.Warn().Err(err).Str("uid", uid).Msg("retry token refill")
	}
	return err == nil
}

// mutate retries MutateProfile when the row version moved underneath it
func (s *service) mutate(ctx context.Context, uid string, fn func(p *Profile) error) (*Profile, error) {
	var err error
	for attempt := 0; attempt < mutateAttempts; attempt++ {
		var p *Profile
		p, err = s.repo.MutateProfile(ctx, uid, fn)
		if !errors.Is(err, ErrConcurrentUpdate) {
			return p, err
		}
	}
	return nil, err
}
