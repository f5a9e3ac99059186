package ai

import (
	"strings"
	"time"
)

// ContentBuffer coalesces streamed fragments and hands them to flush once
// maxBytes have accumulated or interval has passed since the last flush.
// It is not safe for concurrent use.
type ContentBuffer struct {
	maxBytes int
	interval time.Duration
	flush    func(chunk string) error
	now      func() time.Time

	pending   strings.Builder
	all       strings.Builder
	lastFlush time.Time
	flushes   int
}

func NewContentBuffer(maxBytes int, interval time.Duration, flush func(string) error, clock func() time.Time) *ContentBuffer {
	if clock == nil {
		clock = time.Now
	}
	return &ContentBuffer{
		maxBytes:  maxBytes,
		interval:  interval,
		flush:     flush,
		now:       clock,
		lastFlush: clock(),
	}
}

// Add appends s and flushes if a threshold is crossed.
func (b *ContentBuffer) Add(s string) error {
	if s == "" {
		return nil
	}
	b.pending.WriteString(s)
	b.all.WriteString(s)

	if b.pending.Len() >= b.maxBytes {
		return b.Flush()
	}
	if b.interval > 0 && b.now().Sub(b.lastFlush) >= b.interval {
		return b.Flush()
	}
	return nil
}

// Flush writes whatever is pending.
func (b *ContentBuffer) Flush() error {
	if b.pending.Len() == 0 {
		return nil
	}
	chunk := b.pending.String()
	b.pending.Reset()
	b.lastFlush = b.now()
	b.flushes++
	return b.flush(chunk)
}

// String returns everything added so far, flushed or not.
func (b *ContentBuffer) String() string {
	return b.all.String()
}

func (b *ContentBuffer) Flushes() int {
	return b.flushes
}
