// Package timing produces the randomized pauses used to make automated
// WhatsApp activity look like a person at a keyboard.
package timing

import (
	"context"
	"math"
	"math/rand/v2"
	"strings"
	"time"
)

const (
	typingBase       = time.Second
	typingMin        = time.Second
	typingMax        = 8 * time.Second
	wordsPerMinute   = 40
	typingJitterFrac = 0.3
)

// HumanTimings is the pause plan for one human-like send.
type HumanTimings struct {
	Seen   time.Duration // before the seen receipt
	Typing time.Duration // composing indicator duration
	Send   time.Duration // after typing stops, before the send
}

// RandomDelay returns a uniformly random duration in [lo, hi].
// hi <= lo yields lo.
func RandomDelay(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(rand.Int64N(int64(hi-lo)+1))
}

// TypingTime estimates how long a person would need to type text:
// one second of base time plus 40 wpm, with ±15% jitter, clamped to [1s, 8s].
func TypingTime(text string) time.Duration {
	return typingTime(text, rand.Float64())
}

func typingTime(text string, r float64) time.Duration {
	words := len(strings.Split(text, " "))
	typing := float64(words) * float64(time.Minute) / wordsPerMinute
	variation := typing * typingJitterFrac * (r - 0.5)
	ms := math.Round((float64(typingBase) + typing + variation) / float64(time.Millisecond))
	d := time.Duration(ms) * time.Millisecond
	return min(max(d, typingMin), typingMax)
}

// Human returns a fresh randomized timing plan for sending text.
func Human(text string) HumanTimings {
	return HumanTimings{
		Seen:   RandomDelay(500*time.Millisecond, 1500*time.Millisecond),
		Typing: TypingTime(text),
		Send:   RandomDelay(200*time.Millisecond, 800*time.Millisecond),
	}
}

// Sleep blocks for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// SleepFunc is the signature shared by Sleep and test doubles.
type SleepFunc func(ctx context.Context, d time.Duration) error
