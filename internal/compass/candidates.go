package compass

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

const (
	CandidatePoolSize = 200
	fetchHeadroom     = 2
	SeenCooldown      = 7 * 24 * time.Hour
)

// SeenRegistry maps a profile uid to when it was last shown or swiped.
// Entries are never removed; cooldown is a timestamp comparison.
type SeenRegistry map[string]time.Time

// Mark records uid as seen at ts. An existing entry only moves forward.
func (s SeenRegistry) Mark(uid string, ts time.Time) {
	if prev, ok := s[uid]; ok && !ts.After(prev) {
		return
	}
	s[uid] = ts
}

// InCooldown reports whether uid was seen less than SeenCooldown before now
func (s SeenRegistry) InCooldown(uid string, now time.Time) bool {
	ts, ok := s[uid]
	if !ok {
		return false
	}
	return ts.After(now.Add(-SeenCooldown))
}

// Scan implements the sql.Scanner interface for SeenRegistry
func (s *SeenRegistry) Scan(value interface{}) error {
	if value == nil {
		*s = SeenRegistry{}
		return nil
	}
	reg := SeenRegistry{}
	if err := scanJSON(value, &reg); err != nil {
		return fmt.Errorf("scan seen registry: %w", err)
	}
	*s = reg
	return nil
}

// Value implements the driver.Valuer interface for SeenRegistry
func (s SeenRegistry) Value() (driver.Value, error) {
	if s == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(map[string]time.Time(s))
}

// DiscoverableSource is the read side CandidateGenerator needs from the store
type DiscoverableSource interface {
	QueryDiscoverable(ctx context.Context, limit int) ([]*Profile, error)
}

// CandidateGenerator builds the eligible pool for one requester
type CandidateGenerator struct {
	source DiscoverableSource
	now    func() time.Time
}

func NewCandidateGenerator(source DiscoverableSource, now func() time.Time) *CandidateGenerator {
	if now == nil {
		now = time.Now
	}
	return &CandidateGenerator{source: source, now: now}
}

// Generate returns up to CandidatePoolSize discoverable profiles, excluding
// the requester and anyone in cooldown. With a filter tag candidates must
// list it; otherwise they must share at least one interest with requester.
func (g *CandidateGenerator) Generate(ctx context.Context, requester *Profile, filter string) ([]*Profile, error) {
	fetched, err := g.source.QueryDiscoverable(ctx, CandidatePoolSize*fetchHeadroom)
	if err != nil {
		return nil, fmt.Errorf("query discoverable: %w", err)
	}

	now := g.now()
	filter = NormalizeTag(filter)
	requesterTags := requester.DNA.InterestSet()
	seen := requester.Compass.SeenProfileIDs

	pool := make([]*Profile, 0, minInt(len(fetched), CandidatePoolSize))
	for _, candidate := range fetched {
		if candidate == nil || candidate.UID == requester.UID {
			continue
		}
		if seen.InCooldown(candidate.UID, now) {
			continue
		}
		if filter != "" {
			if !candidate.DNA.HasInterest(filter) {
				continue
			}
		} else if !sharesAnyTag(requesterTags, &candidate.DNA) {
			continue
		}

		pool = append(pool, candidate)
		if len(pool) == CandidatePoolSize {
			break
		}
	}

	return pool, nil
}

func sharesAnyTag(tags map[string]Interest, dna *DNA) bool {
	for _, interest := range dna.CoreInterests {
		if _, ok := tags[NormalizeTag(interest.Tag)]; ok {
			return true
		}
	}
	return false
}
