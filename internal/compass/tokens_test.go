package compass

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func withTokens(p *Profile, count int, lastActive time.Time) *Profile {
	p.Compass.ConnectionTokens.Count = count
	p.Compass.LastActiveTimestamp = lastActive
	return p
}

func TestComputeRefills(t *testing.T) {
	hidden := withTokens(newProfile("hidden", ArchetypeCreator, "hiking"), 1, testNow.Add(-time.Hour))
	hidden.Compass.Discoverable = false

	profiles := []*Profile{
		withTokens(newProfile("low", ArchetypeCreator, "hiking"), 2, testNow.Add(-time.Hour)),
		withTokens(newProfile("near-cap", ArchetypeCreator, "hiking"), 9, testNow.Add(-time.Hour)),
		withTokens(newProfile("empty", ArchetypeCreator, "hiking"), 0, testNow.Add(-23*time.Hour)),
		withTokens(newProfile("full", ArchetypeCreator, "hiking"), MaxTokens, testNow.Add(-time.Hour)),
		withTokens(newProfile("idle", ArchetypeCreator, "hiking"), 1, testNow.Add(-25*time.Hour)),
		withTokens(newProfile("edge", ArchetypeCreator, "hiking"), 1, testNow.Add(-24*time.Hour)),
		hidden,
		nil,
	}

	refills := ComputeRefills(profiles, testNow)

	assert.Equal(t, []TokenRefill{
		{UID: "low", Previous: 2, NewCount: 5},
		{UID: "near-cap", Previous: 9, NewCount: 10},
		{UID: "empty", Previous: 0, NewCount: 3},
	}, refills)
}

func TestComputeRefills_NeverExceedsCap(t *testing.T) {
	p := withTokens(newProfile("p", ArchetypeCreator, "hiking"), 0, testNow.Add(-time.Minute))

	for cycle := 0; cycle < 10; cycle++ {
		for _, r := range ComputeRefills([]*Profile{p}, testNow) {
			p.Compass.ConnectionTokens.Count = r.NewCount
		}
		assert.LessOrEqual(t, p.Compass.ConnectionTokens.Count, MaxTokens)
	}
	assert.Equal(t, MaxTokens, p.Compass.ConnectionTokens.Count)
}

func TestRefillCount(t *testing.T) {
	assert.Equal(t, 3, RefillCount(0))
	assert.Equal(t, 3, RefillCount(-4))
	assert.Equal(t, 10, RefillCount(8))
	assert.Equal(t, 10, RefillCount(10))
}

func TestTokenLedger(t *testing.T) {
	ledger := NewTokenLedger()

	t.Run("spend takes exactly one", func(t *testing.T) {
		p := withTokens(newProfile("p", ArchetypeCreator), 1, testNow)
		assert.NoError(t, ledger.Spend(p))
		assert.Equal(t, 0, p.Compass.ConnectionTokens.Count)
	})

	t.Run("empty balance is rejected untouched", func(t *testing.T) {
		p := withTokens(newProfile("p", ArchetypeCreator), 0, testNow)
		assert.ErrorIs(t, ledger.Spend(p), ErrRequiresTokens)
		assert.Equal(t, 0, p.Compass.ConnectionTokens.Count)
		assert.False(t, ledger.CanConnect(p))
	})

	t.Run("refill clamps", func(t *testing.T) {
		p := withTokens(newProfile("p", ArchetypeCreator), 9, testNow)
		assert.True(t, ledger.Refill(p, testNow))
		assert.Equal(t, MaxTokens, p.Compass.ConnectionTokens.Count)
		assert.Equal(t, testNow, p.Compass.ConnectionTokens.RefreshedAt)
		assert.False(t, ledger.Refill(p, testNow))
	})
}
