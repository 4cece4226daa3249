package server

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTriggerFlushConcatenates(t *testing.T) {
	tr := NewTrigger(DefaultTriggerPolicy(), nil)

	tr.Feed("hello ")
	tr.Feed("there ")
	tr.Feed("world")

	assert.Equal(t, "hello there world", tr.Flush())
	assert.Equal(t, "", tr.Flush(), "second flush with nothing fed must be empty")
	assert.Zero(t, tr.Len())
}

func TestTriggerHardLimit(t *testing.T) {
	tr := NewTrigger(DefaultTriggerPolicy(), nil)

	tr.Feed(strings.Repeat("a", 99))
	assert.False(t, tr.ShouldFlush())

	tr.Feed("b")
	assert.True(t, tr.ShouldFlush())

	single := NewTrigger(DefaultTriggerPolicy(), nil)
	single.Feed(strings.Repeat("x", 150))
	assert.True(t, single.ShouldFlush(), "one message at or above the hard limit flushes immediately")
}

func TestTriggerCountsCharactersNotBytes(t *testing.T) {
	tr := NewTrigger(DefaultTriggerPolicy(), nil)

	// 40 Hangul syllables are 120 bytes but only 40 characters.
	tr.Feed(strings.Repeat("안", 40))
	assert.Equal(t, 40, tr.Len())
	assert.False(t, tr.ShouldFlush())
}

func TestTriggerTimeWindow(t *testing.T) {
	clock := newFakeClock()
	tr := NewTrigger(DefaultTriggerPolicy(), clock.Now)

	tr.Feed(strings.Repeat("a", 80))
	assert.False(t, tr.ShouldFlush(), "80 characters inside the window")

	clock.Advance(5 * time.Minute)
	assert.False(t, tr.ShouldFlush(), "window must be strictly exceeded")

	clock.Advance(time.Second)
	assert.True(t, tr.ShouldFlush(), "window elapsed with more than 70 characters")

	tr.Flush()
	tr.Feed(strings.Repeat("a", 70))
	clock.Advance(10 * time.Minute)
	assert.False(t, tr.ShouldFlush(), "70 characters is not above the soft limit")

	tr.Feed("a")
	assert.True(t, tr.ShouldFlush())
}

func TestTriggerFlushRestartsWindow(t *testing.T) {
	clock := newFakeClock()
	tr := NewTrigger(DefaultTriggerPolicy(), clock.Now)

	clock.Advance(time.Hour)
	tr.Feed(strings.Repeat("a", 100))
	assert.Equal(t, 100, len(tr.Flush()))

	tr.Feed(strings.Repeat("a", 80))
	assert.False(t, tr.ShouldFlush(), "window restarts at flush time")
}

func TestTriggerOffer(t *testing.T) {
	tr := NewTrigger(DefaultTriggerPolicy(), nil)

	text, ok := tr.Offer(strings.Repeat("a", 60))
	assert.False(t, ok)
	assert.Empty(t, text)

	text, ok = tr.Offer(strings.Repeat("b", 45))
	assert.True(t, ok)
	assert.Equal(t, strings.Repeat("a", 60)+strings.Repeat("b", 45), text)
	assert.Zero(t, tr.Len())
}

func TestTriggerConcurrentOfferLosesNothing(t *testing.T) {
	policy := TriggerPolicy{HardLimit: 10, SoftLimit: 5, Window: time.Hour}
	tr := NewTrigger(policy, nil)

	const workers, perWorker = 8, 250
	var (
		mu      sync.Mutex
		flushed strings.Builder
		wg      sync.WaitGroup
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				if text, ok := tr.Offer("x"); ok {
					mu.Lock()
					flushed.WriteString(text)
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	total := flushed.Len() + len(tr.Flush())
	assert.Equal(t, workers*perWorker, total)
}
