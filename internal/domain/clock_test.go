package domain_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/aelexs/connection-gateway/internal/domain"
	"github.com/aelexs/connection-gateway/internal/domain/domaintest"
)

func TestRealClock(t *testing.T) {
	clock := domain.RealClock{}
	before := time.Now()
	got := clock.Now()
	after := time.Now()

	assert.False(t, got.Before(before))
	assert.False(t, got.After(after))
}

func TestFakeClock(t *testing.T) {
	fixed := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

	t.Run("returns fixed time", func(t *testing.T) {
		clock := domaintest.NewFakeClock(fixed)
		assert.True(t, clock.Now().Equal(fixed))
	})

	t.Run("advance moves time forward", func(t *testing.T) {
		clock := domaintest.NewFakeClock(fixed)
		clock.Advance(90 * time.Second)
		assert.True(t, clock.Now().Equal(fixed.Add(90*time.Second)))
	})

	t.Run("set replaces current time", func(t *testing.T) {
		clock := domaintest.NewFakeClock(fixed)
		later := fixed.Add(24 * time.Hour)
		clock.Set(later)
		assert.True(t, clock.Now().Equal(later))
	})
}

func TestUnixMillis(t *testing.T) {
	fixed := time.Date(2026, 3, 14, 9, 30, 0, 123_000_000, time.UTC)
	clock := domaintest.NewFakeClock(fixed)

	assert.Equal(t, fixed.UnixMilli(), domain.UnixMillis(clock))
}
