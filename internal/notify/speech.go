// Package notify implements the side effects of a delivery: notification
// sounds, spoken labels and fan-out to external renderers.
package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultSpeechGap is the pause between two utterances.
const DefaultSpeechGap = 300 * time.Millisecond

// Speaker turns text into speech. Speak blocks until the utterance ends.
type Speaker interface {
	Speak(ctx context.Context, text string) error
	Stop()
}

// SpeechQueue serializes utterances so they never overlap.
type SpeechQueue struct {
	speaker Speaker
	gap     time.Duration
	logger  *zap.Logger

	mu    sync.Mutex
	queue []string
	wake  chan struct{}
}

// NewSpeechQueue creates a SpeechQueue. A non-positive gap uses DefaultSpeechGap.
func NewSpeechQueue(speaker Speaker, gap time.Duration, logger *zap.Logger) *SpeechQueue {
	if gap <= 0 {
		gap = DefaultSpeechGap
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SpeechQueue{
		speaker: speaker,
		gap:     gap,
		logger:  logger.Named("speech"),
		wake:    make(chan struct{}, 1),
	}
}

// Add queues text. Empty text is ignored.
func (s *SpeechQueue) Add(text string) {
	if text == "" {
		return
	}
	s.mu.Lock()
	s.queue = append(s.queue, text)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Len returns the number of pending utterances.
func (s *SpeechQueue) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Clear drops pending utterances and stops the current one.
func (s *SpeechQueue) Clear() {
	s.mu.Lock()
	s.queue = nil
	s.mu.Unlock()
	s.speaker.Stop()
}

// Run speaks queued text until ctx is cancelled.
func (s *SpeechQueue) Run(ctx context.Context) error {
	for {
		text, ok := s.pop()
		if !ok {
			select {
			case <-ctx.Done():
				return nil
			case <-s.wake:
				continue
			}
		}

		if err := s.speaker.Speak(ctx, text); err != nil {
			s.logger.Warn("speech failed", zap.String("text", text), zap.Error(err))
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(s.gap):
		}
	}
}

func (s *SpeechQueue) pop() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return "", false
	}
	text := s.queue[0]
	s.queue = s.queue[1:]
	return text, true
}
