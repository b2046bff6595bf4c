package compass

import "time"

const (
	MaxTokens      = 10
	DailyRefill    = 3
	activityWindow = 24 * time.Hour
)

// TokenRefill is one pending write of the refill job
type TokenRefill struct {
	UID      string `db:"uid"`
	Previous int    `db:"previous"`
	NewCount int    `db:"new_count"`
}

// RefillCount is min(current + DailyRefill, MaxTokens), never below 0
func RefillCount(current int) int {
	if current < 0 {
		current = 0
	}
	next := current + DailyRefill
	if next > MaxTokens {
		next = MaxTokens
	}
	return next
}

// ComputeRefills returns the writes for discoverable profiles active within
// the last 24h whose balance is below MaxTokens. It reads no clock.
func ComputeRefills(profiles []*Profile, now time.Time) []TokenRefill {
	since := now.Add(-activityWindow)
	refills := make([]TokenRefill, 0, len(profiles))
	for _, p := range profiles {
		if p == nil || !p.Compass.Discoverable {
			continue
		}
		if !p.Compass.LastActiveTimestamp.After(since) {
			continue
		}
		current := p.Compass.ConnectionTokens.Count
		if current >= MaxTokens {
			continue
		}
		refills = append(refills, TokenRefill{
			UID:      p.UID,
			Previous: current,
			NewCount: RefillCount(current),
		})
	}
	return refills
}

// TokenLedger gates the connect action
type TokenLedger struct{}

func NewTokenLedger() *TokenLedger {
	return &TokenLedger{}
}

// CanConnect reports whether p holds at least one token
func (l *TokenLedger) CanConnect(p *Profile) bool {
	return p.Compass.ConnectionTokens.Count > 0
}

// Spend takes exactly one token from p, or returns ErrRequiresTokens and
// leaves p unchanged.
func (l *TokenLedger) Spend(p *Profile) error {
	if !l.CanConnect(p) {
		return ErrRequiresTokens
	}
	p.Compass.ConnectionTokens.Count--
	return nil
}

// Refill applies a single refill step to p in place
func (l *TokenLedger) Refill(p *Profile, now time.Time) bool {
	if p.Compass.ConnectionTokens.Count >= MaxTokens {
		return false
	}
	p.Compass.ConnectionTokens.Count = RefillCount(p.Compass.ConnectionTokens.Count)
	p.Compass.ConnectionTokens.RefreshedAt = now
	return true
}
