package compass

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

var testNow = time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

func interest(tag string, passion Passion, kind InterestType) Interest {
	return Interest{Tag: tag, Passion: passion, Type: kind}
}

func tags(names ...string) []Interest {
	out := make([]Interest, 0, len(names))
	for _, n := range names {
		out = append(out, interest(n, PassionCasual, InterestInPerson))
	}
	return out
}

func newProfile(uid string, archetype Archetype, interests ...string) *Profile {
	return &Profile{
		UID:         uid,
		Username:    uid,
		DisplayName: "User " + uid,
		Location:    "Lagos",
		DNA: DNA{
			Archetype:        archetype,
			CoreInterests:    tags(interests...),
			SocialTempo:      TempoSmallGroup,
			ConnectionIntent: IntentPlanned,
			Languages:        []string{"en"},
		},
		Compass: Compass{
			SeenProfileIDs:      SeenRegistry{},
			ConnectionTokens:    ConnectionTokens{Count: MaxTokens},
			Discoverable:        true,
			LastActiveTimestamp: testNow.Add(-time.Hour),
		},
	}
}

// cloneProfile deep-copies p so the fake store never shares slices or maps
// with callers
func cloneProfile(p *Profile) *Profile {
	c := *p
	c.DNA.CoreInterests = append([]Interest(nil), p.DNA.CoreInterests...)
	c.DNA.Languages = append([]string(nil), p.DNA.Languages...)
	if p.Compass.PreferenceVector != nil {
		c.Compass.PreferenceVector = append([]float64(nil), p.Compass.PreferenceVector...)
	}
	if p.Compass.SeenProfileIDs != nil {
		c.Compass.SeenProfileIDs = make(SeenRegistry, len(p.Compass.SeenProfileIDs))
		for uid, at := range p.Compass.SeenProfileIDs {
			c.Compass.SeenProfileIDs[uid] = at
		}
	}
	return &c
}

func testRegistry() *InterestRegistry {
	r, err := NewInterestRegistry(nil)
	if err != nil {
		panic(err)
	}
	return r
}

// fakeRepo is an in-memory Repository with per-call failure hooks
type fakeRepo struct {
	mu       sync.Mutex
	profiles map[string]*Profile
	metrics  []*LearningMetric

	queryErr  error
	mutateErr error
	metricErr error
	listErr   error

	// beforeMutate runs ahead of every MutateProfile, outside the lock
	beforeMutate func()

	// refill rows that lose a race against a concurrent spend
	raceOnRefill map[string]bool
	mutations    int
}

func newFakeRepo(profiles ...*Profile) *fakeRepo {
	r := &fakeRepo{profiles: make(map[string]*Profile), raceOnRefill: make(map[string]bool)}
	for _, p := range profiles {
		r.profiles[p.UID] = cloneProfile(p)
	}
	return r
}

func (r *fakeRepo) get(uid string) *Profile {
	r.mu.Lock()
	defer r.mu.Unlock()
	return cloneProfile(r.profiles[uid])
}

func (r *fakeRepo) GetProfile(_ context.Context, uid string) (*Profile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.profiles[uid]
	if !ok {
		return nil, ErrProfileNotFound
	}
	return cloneProfile(p), nil
}

func (r *fakeRepo) QueryDiscoverable(_ context.Context, limit int) ([]*Profile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.queryErr != nil {
		return nil, r.queryErr
	}
	uids := make([]string, 0, len(r.profiles))
	for uid, p := range r.profiles {
		if p.Compass.Discoverable {
			uids = append(uids, uid)
		}
	}
	sort.Strings(uids)
	if len(uids) > limit {
		uids = uids[:limit]
	}
	out := make([]*Profile, 0, len(uids))
	for _, uid := range uids {
		out = append(out, cloneProfile(r.profiles[uid]))
	}
	return out, nil
}

func (r *fakeRepo) MutateProfile(ctx context.Context, uid string, fn func(p *Profile) error) (*Profile, error) {
	if r.beforeMutate != nil {
		r.beforeMutate()
	}
	// a real store aborts the transaction once ctx is done
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mutateErr != nil {
		return nil, r.mutateErr
	}
	stored, ok := r.profiles[uid]
	if !ok {
		return nil, ErrProfileNotFound
	}
	working := cloneProfile(stored)
	if err := fn(working); err != nil {
		return nil, err
	}
	working.Version++
	r.profiles[uid] = working
	r.mutations++
	return cloneProfile(working), nil
}

func (r *fakeRepo) ListRefillCandidates(_ context.Context, since time.Time) ([]*Profile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listErr != nil {
		return nil, r.listErr
	}
	var out []*Profile
	for _, p := range r.profiles {
		if p.Compass.Discoverable && p.Compass.LastActiveTimestamp.After(since) && p.Compass.ConnectionTokens.Count < MaxTokens {
			out = append(out, cloneProfile(p))
		}
	}
	return out, nil
}

func (r *fakeRepo) ApplyTokenRefills(_ context.Context, refills []TokenRefill, at time.Time) ([]TokenRefill, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var conflicts []TokenRefill
	for _, refill := range refills {
		p := r.profiles[refill.UID]
		if r.raceOnRefill[refill.UID] {
			p.Compass.ConnectionTokens.Count--
			delete(r.raceOnRefill, refill.UID)
		}
		if p.Compass.ConnectionTokens.Count != refill.Previous {
			conflicts = append(conflicts, refill)
			continue
		}
		p.Compass.ConnectionTokens.Count = refill.NewCount
		p.Compass.ConnectionTokens.RefreshedAt = at
		p.Version++
	}
	return conflicts, nil
}

func (r *fakeRepo) RecordLearningMetric(_ context.Context, metric *LearningMetric) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.metricErr != nil {
		return r.metricErr
	}
	r.metrics = append(r.metrics, metric)
	return nil
}

func (r *fakeRepo) LoadInterestSlots(context.Context) (map[string]int, error) {
	return nil, nil
}

type fakeNotifier struct {
	mu       sync.Mutex
	requests map[string][]*ConnectionRequest
}

func (n *fakeNotifier) NotifyConnectionRequest(targetUID string, request *ConnectionRequest) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.requests == nil {
		n.requests = make(map[string][]*ConnectionRequest)
	}
	n.requests[targetUID] = append(n.requests[targetUID], request)
}

var errStoreDown = errors.New("store unavailable")
