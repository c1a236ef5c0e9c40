package ledger

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShouldSuppressWithinCooldown(t *testing.T) {
	l := New(15 * time.Minute)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	assert.False(t, l.ShouldSuppress("whale_BTC_0xabc_20240501", now))
	l.Record("whale_BTC_0xabc_20240501", now)

	assert.True(t, l.ShouldSuppress("whale_BTC_0xabc_20240501", now.Add(14*time.Minute)))
	assert.False(t, l.ShouldSuppress("whale_BTC_0xabc_20240501", now.Add(15*time.Minute)))
	assert.False(t, l.ShouldSuppress("other", now))
}

func TestAdmitIsAtomic(t *testing.T) {
	l := New(time.Minute)
	now := time.Now()

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Admit("same", now) {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, admitted)
}

func TestRecordOverwrites(t *testing.T) {
	l := New(10 * time.Minute)
	start := time.Now()
	l.Record("id", start)
	l.Record("id", start.Add(9*time.Minute))

	assert.True(t, l.ShouldSuppress("id", start.Add(12*time.Minute)))
	assert.Equal(t, 1, l.Len())
}

func TestPrune(t *testing.T) {
	l := New(5 * time.Minute)
	now := time.Now()
	for i := 0; i < 4; i++ {
		l.Record(fmt.Sprintf("old-%d", i), now.Add(-10*time.Minute))
	}
	l.Record("fresh", now.Add(-time.Minute))

	require.Equal(t, 4, l.Prune(now))
	assert.Equal(t, 1, l.Len())
	assert.True(t, l.ShouldSuppress("fresh", now))
}

func TestDefaultCooldown(t *testing.T) {
	assert.Equal(t, DefaultCooldown, New(0).Cooldown())
}
