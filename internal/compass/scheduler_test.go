package compass

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNextRun(t *testing.T) {
	at := func(day, hour, minute int) time.Time {
		return time.Date(2026, 10, day, hour, minute, 0, 0, time.UTC)
	}

	assert.Equal(t, at(16, 4, 0), nextRun(at(16, 1, 30), 4, 0))
	assert.Equal(t, at(17, 4, 0), nextRun(at(16, 4, 0), 4, 0), "a run due exactly now moves to tomorrow")
	assert.Equal(t, at(17, 4, 0), nextRun(at(16, 12, 0), 4, 0))
	assert.Equal(t, time.Date(2026, 11, 1, 4, 0, 0, 0, time.UTC), nextRun(time.Date(2026, 10, 31, 23, 0, 0, 0, time.UTC), 4, 0))
}

func TestNewScheduler_ClampsHour(t *testing.T) {
	assert.Equal(t, 4, NewScheduler(nil, 24).refillHour)
	assert.Equal(t, 4, NewScheduler(nil, -1).refillHour)
	assert.Equal(t, 2, NewScheduler(nil, 2).refillHour)
}
