package dhcp_test

import (
	"testing"
	"time"

	"github.com/simpledhcpd/simpledhcpd/internal/dhcp"
	"github.com/stretchr/testify/assert"
)

func TestRateLimiter_tripsAndBlocks(t *testing.T) {
	rl := dhcp.NewRateLimiter(dhcp.RateRule{
		Limit:       3,
		Window:      time.Second,
		BlockWindow: 5 * time.Second,
	}, 0)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		admitted, entered := rl.Allow("aa:bb:cc:dd:ee:ff", base.Add(time.Duration(i)*50*time.Millisecond))
		assert.True(t, admitted)
		assert.False(t, entered)
	}

	admitted, entered := rl.Allow("aa:bb:cc:dd:ee:ff", base.Add(200*time.Millisecond))
	assert.False(t, admitted)
	assert.True(t, entered)

	admitted, entered = rl.Allow("aa:bb:cc:dd:ee:ff", base.Add(1*time.Second))
	assert.False(t, admitted)
	assert.False(t, entered)

	// The block window starts at the tripping hit (base+200ms).
	admitted, _ = rl.Allow("aa:bb:cc:dd:ee:ff", base.Add(200*time.Millisecond+5*time.Second+time.Millisecond))
	assert.True(t, admitted)
}

func TestRateLimiter_independentIdentifiers(t *testing.T) {
	rl := dhcp.NewRateLimiter(dhcp.RateRule{Limit: 1, Window: time.Second, BlockWindow: time.Second}, 0)

	now := time.Now()
	admitted, _ := rl.Allow("mac-a", now)
	assert.True(t, admitted)

	admitted, _ = rl.Allow("mac-b", now)
	assert.True(t, admitted)
}

func TestRateLimiter_evictsOldestWhenCapped(t *testing.T) {
	rl := dhcp.NewRateLimiter(dhcp.RateRule{Limit: 10, Window: time.Minute, BlockWindow: time.Minute}, 2)

	now := time.Now()
	rl.Allow("a", now)
	rl.Allow("b", now)
	rl.Allow("c", now)

	// a was evicted, so it starts fresh rather than carrying old state;
	// this is an implementation detail exercised to confirm no panic/leak.
	admitted, _ := rl.Allow("a", now)
	assert.True(t, admitted)
}
