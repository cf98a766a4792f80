package notify

import (
	"context"

	"go.uber.org/zap"

	"ergo-live/internal/presentation"
)

// SoundPlayer plays a notification sound.
type SoundPlayer interface {
	Play(ctx context.Context, sound presentation.SoundType) error
}

// Announcer plays the item's sound and queues its label for speech.
type Announcer struct {
	player SoundPlayer
	speech *SpeechQueue
	logger *zap.Logger
}

var _ presentation.Announcer = (*Announcer)(nil)

// NewAnnouncer creates an Announcer. Either player or speech may be nil.
func NewAnnouncer(player SoundPlayer, speech *SpeechQueue, logger *zap.Logger) *Announcer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Announcer{player: player, speech: speech, logger: logger.Named("announcer")}
}

// Announce plays the sound synchronously and enqueues the label.
func (a *Announcer) Announce(ctx context.Context, it presentation.Item) {
	if it.Sound != presentation.SoundNone && a.player != nil {
		if err := a.player.Play(ctx, it.Sound); err != nil {
			a.logger.Warn("sound playback failed", zap.String("sound", string(it.Sound)), zap.Error(err))
		}
	}
	if it.Label != "" && a.speech != nil {
		a.speech.Add(it.Label)
	}
}

// Stop clears pending speech.
func (a *Announcer) Stop() {
	if a.speech != nil {
		a.speech.Clear()
	}
}

// LogPlayer records sounds in the log. Actual playback is the renderer's
// job; the sound class also travels with every delivery.
type LogPlayer struct {
	Logger *zap.Logger
}

// Play logs sound.
func (p LogPlayer) Play(_ context.Context, sound presentation.SoundType) error {
	if p.Logger != nil {
		p.Logger.Debug("play sound", zap.String("sound", string(sound)))
	}
	return nil
}

// LogSpeaker records utterances in the log.
type LogSpeaker struct {
	Logger *zap.Logger
}

// Speak logs text.
func (s LogSpeaker) Speak(_ context.Context, text string) error {
	if s.Logger != nil {
		s.Logger.Debug("speak", zap.String("text", text))
	}
	return nil
}

// Stop is a no-op.
func (LogSpeaker) Stop() {}
