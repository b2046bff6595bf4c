package compass

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
)

// ClaimState is the outcome of claiming a swipe event id
type ClaimState int

const (
	// ClaimAcquired means the caller owns the event and must Complete or
	// Release it
	ClaimAcquired ClaimState = iota
	// ClaimDone means the event was already applied
	ClaimDone
	// ClaimInFlight means another attempt holds an unexpired claim
	ClaimInFlight
)

const (
	// claimTTL bounds how long an unconfirmed claim blocks redelivery, so
	// a worker that dies mid-apply frees the event once it expires
	claimTTL = 5 * time.Minute

	// settleTimeout caps claim and lock bookkeeping that runs after the
	// caller's context may already be done
	settleTimeout = 5 * time.Second

	claimProcessing = "processing"
	claimDone       = "done"
)

// Deduper claims swipe event ids so a redelivered event applies once. A
// claim starts as processing and only becomes permanent on Complete.
type Deduper interface {
	Claim(ctx context.Context, eventID string) (ClaimState, error)
	// Complete marks an acquired claim as applied
	Complete(ctx context.Context, eventID string) error
	// Release drops a processing claim so the event can be retried
	Release(ctx context.Context, eventID string) error
}

// settleContext detaches bookkeeping from a cancelled delivery
func settleContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
}

const dedupKeyPrefix = "compass:swipe-event:"

// releaseScript deletes the key only while it still holds a processing claim
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type redisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisDeduper keeps completed claims for ttl
func NewRedisDeduper(client *redis.Client, ttl time.Duration) Deduper {
	return &redisDeduper{client: client, ttl: ttl}
}

func (d *redisDeduper) Claim(ctx context.Context, eventID string) (ClaimState, error) {
	key := dedupKeyPrefix + eventID
	ok, err := d.client.SetNX(ctx, key, claimProcessing, claimTTL).Result()
	if err != nil {
		return 0, fmt.Errorf("claim event %s: %w", eventID, err)
	}
	if ok {
		return ClaimAcquired, nil
	}

	state, err := d.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		// expired between the two calls; the next delivery takes it
		return ClaimInFlight, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read claim %s: %w", eventID, err)
	}
	if state == claimDone {
		return ClaimDone, nil
	}
	return ClaimInFlight, nil
}

func (d *redisDeduper) Complete(ctx context.Context, eventID string) error {
	return d.client.Set(ctx, dedupKeyPrefix+eventID, claimDone, d.ttl).Err()
}

func (d *redisDeduper) Release(ctx context.Context, eventID string) error {
	return releaseScript.Run(ctx, d.client, []string{dedupKeyPrefix + eventID}, claimProcessing).Err()
}

type postgresDeduper struct {
	db *sqlx.DB
}

// NewPostgresDeduper keeps claims in compass_swipe_events; used when Redis is
// not configured
func NewPostgresDeduper(db *sqlx.DB) Deduper {
	return &postgresDeduper{db: db}
}

// Claim inserts a processing row, or takes over one whose claim went stale
func (d *postgresDeduper) Claim(ctx context.Context, eventID string) (ClaimState, error) {
	query := `
		INSERT INTO compass_swipe_events (event_id, state, claimed_at)
		VALUES ($1, 'processing', NOW())
		ON CONFLICT (event_id) DO UPDATE
			SET claimed_at = NOW()
			WHERE compass_swipe_events.state = 'processing'
			  AND compass_swipe_events.claimed_at < NOW() - make_interval(secs => $2)
		RETURNING event_id
	`

	var claimed string
	err := d.db.QueryRowxContext(ctx, query, eventID, claimTTL.Seconds()).Scan(&claimed)
	if err == nil {
		return ClaimAcquired, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("claim event %s: %w", eventID, err)
	}

	var state string
	err = d.db.GetContext(ctx, &state, `SELECT state FROM compass_swipe_events WHERE event_id = $1`, eventID)
	if errors.Is(err, sql.ErrNoRows) {
		return ClaimInFlight, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read claim %s: %w", eventID, err)
	}
	if state == claimDone {
		return ClaimDone, nil
	}
	return ClaimInFlight, nil
}

func (d *postgresDeduper) Complete(ctx context.Context, eventID string) error {
	_, err := d.db.ExecContext(ctx,
		`UPDATE compass_swipe_events SET state = 'done', processed_at = NOW() WHERE event_id = $1`,
		eventID,
	)
	return err
}

func (d *postgresDeduper) Release(ctx context.Context, eventID string) error {
	_, err := d.db.ExecContext(ctx,
		`DELETE FROM compass_swipe_events WHERE event_id = $1 AND state = 'processing'`,
		eventID,
	)
	return err
}

// JobLock keeps replicas from running the same scheduled job twice
type JobLock interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Release frees key early, e.g. after a failed run
	Release(ctx context.Context, key string) error
}

const jobLockPrefix = "compass:lock:"

type redisJobLock struct {
	client *redis.Client
}

func NewRedisJobLock(client *redis.Client) JobLock {
	return &redisJobLock{client: client}
}

func (l *redisJobLock) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, jobLockPrefix+key, time.Now().Unix(), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	return ok, nil
}

func (l *redisJobLock) Release(ctx context.Context, key string) error {
	return l.client.Del(ctx, jobLockPrefix+key).Err()
}

// localJobLock serves single-instance deployments without Redis
type localJobLock struct {
	mu    sync.Mutex
	until map[string]time.Time
}

func NewLocalJobLock() JobLock {
	return &localJobLock{until: make(map[string]time.Time)}
}

func (l *localJobLock) Acquire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if until, ok := l.until[key]; ok && now.Before(until) {
		return false, nil
	}
	l.until[key] = now.Add(ttl)
	return true, nil
}

func (l *localJobLock) Release(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.until, key)
	return nil
}

type memoryClaim struct {
	done      bool
	claimedAt time.Time
}

// memoryDeduper is the fallback when no shared store is wired
type memoryDeduper struct {
	mu     sync.Mutex
	claims map[string]memoryClaim
	now    func() time.Time
}

func newMemoryDeduper() *memoryDeduper {
	return &memoryDeduper{claims: make(map[string]memoryClaim), now: time.Now}
}

func (d *memoryDeduper) Claim(_ context.Context, eventID string) (ClaimState, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if c, ok := d.claims[eventID]; ok {
		if c.done {
			return ClaimDone, nil
		}
		if now.Sub(c.claimedAt) < claimTTL {
			return ClaimInFlight, nil
		}
	}
	d.claims[eventID] = memoryClaim{claimedAt: now}
	return ClaimAcquired, nil
}

func (d *memoryDeduper) Complete(_ context.Context, eventID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.claims[eventID] = memoryClaim{done: true, claimedAt: d.now()}
	return nil
}

func (d *memoryDeduper) Release(_ context.Context, eventID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if c, ok := d.claims[eventID]; ok && !c.done {
		delete(d.claims, eventID)
	}
	return nil
}
