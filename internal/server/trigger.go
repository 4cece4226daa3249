package server

import (
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

// TriggerPolicy holds the thresholds that decide when accumulated text is
// summarized. Lengths are counted in characters (runes).
type TriggerPolicy struct {
	// HardLimit flushes regardless of elapsed time.
	HardLimit int `yaml:"hard_limit"`
	// SoftLimit must be exceeded for Window-based flushes.
	SoftLimit int `yaml:"soft_limit"`
	// Window is the time since the last flush after which SoftLimit applies.
	Window time.Duration `yaml:"window"`
}

// DefaultTriggerPolicy returns the 100/70 character, five minute policy.
func DefaultTriggerPolicy() TriggerPolicy {
	return TriggerPolicy{
		HardLimit: 100,
		SoftLimit: 70,
		Window:    5 * time.Minute,
	}
}

// Trigger accumulates message text for a room and decides when it should be
// flushed. It is only evaluated when text is fed; there is no idle timer, so
// a silent room never flushes on elapsed time alone.
type Trigger struct {
	mu        sync.Mutex
	policy    TriggerPolicy
	buf       strings.Builder
	runes     int
	lastFlush time.Time
	now       func() time.Time
}

// NewTrigger returns an empty trigger whose window starts now. A nil clock
// selects time.Now.
func NewTrigger(policy TriggerPolicy, now func() time.Time) *Trigger {
	if now == nil {
		now = time.Now
	}
	return &Trigger{policy: policy, lastFlush: now(), now: now}
}

// Feed appends text to the buffer.
func (t *Trigger) Feed(text string) {
	t.mu.Lock()
	t.feedLocked(text)
	t.mu.Unlock()
}

// ShouldFlush reports whether the buffer has reached the hard limit, or the
// window has elapsed and the buffer exceeds the soft limit.
func (t *Trigger) ShouldFlush() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.shouldFlushLocked()
}

// Flush returns the buffered text, empties the buffer and restarts the window.
func (t *Trigger) Flush() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.flushLocked()
}

// Offer feeds text and, if that makes the buffer due, flushes it, all under
// one lock. Concurrent callers therefore never split or duplicate a slice.
func (t *Trigger) Offer(text string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.feedLocked(text)
	if !t.shouldFlushLocked() {
		return "", false
	}
	return t.flushLocked(), true
}

// Len reports the buffered length in characters.
func (t *Trigger) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.runes
}

func (t *Trigger) feedLocked(text string) {
	t.buf.WriteString(text)
	t.runes += utf8.RuneCountInString(text)
}

func (t *Trigger) shouldFlushLocked() bool {
	if t.runes >= t.policy.HardLimit {
		return true
	}
	return t.now().Sub(t.lastFlush) > t.policy.Window && t.runes > t.policy.SoftLimit
}

func (t *Trigger) flushLocked() string {
	text := t.buf.String()
	t.buf.Reset()
	t.runes = 0
	t.lastFlush = t.now()
	return text
}
