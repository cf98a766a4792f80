package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ergo-live/internal/domain"
	"ergo-live/internal/presentation"
)

type recordingSpeaker struct {
	mu      sync.Mutex
	texts   []string
	times   []time.Time
	stopped int
	failOn  string
}

func (r *recordingSpeaker) Speak(_ context.Context, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.texts = append(r.texts, text)
	r.times = append(r.times, time.Now())
	if text == r.failOn {
		return errors.New("speech engine unavailable")
	}
	return nil
}

func (r *recordingSpeaker) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped++
}

func (r *recordingSpeaker) spoken() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.texts...)
}

func runSpeech(t *testing.T, q *SpeechQueue) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		q.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestSpeechQueue_SerializesWithGap(t *testing.T) {
	speaker := &recordingSpeaker{}
	gap := 50 * time.Millisecond
	q := NewSpeechQueue(speaker, gap, nil)
	runSpeech(t, q)

	q.Add("one")
	q.Add("")
	q.Add("two")
	q.Add("three")

	require.Eventually(t, func() bool { return len(speaker.spoken()) == 3 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"one", "two", "three"}, speaker.spoken())

	speaker.mu.Lock()
	defer speaker.mu.Unlock()
	for i := 1; i < len(speaker.times); i++ {
		assert.GreaterOrEqual(t, speaker.times[i].Sub(speaker.times[i-1]), gap)
	}
}

func TestSpeechQueue_ContinuesAfterError(t *testing.T) {
	speaker := &recordingSpeaker{failOn: "bad"}
	q := NewSpeechQueue(speaker, time.Millisecond, nil)
	runSpeech(t, q)

	q.Add("bad")
	q.Add("good")

	require.Eventually(t, func() bool { return len(speaker.spoken()) == 2 }, time.Second, 5*time.Millisecond)
}

func TestSpeechQueue_Clear(t *testing.T) {
	speaker := &recordingSpeaker{}
	q := NewSpeechQueue(speaker, time.Hour, nil)

	q.Add("a")
	q.Add("b")
	assert.Equal(t, 2, q.Len())

	q.Clear()
	assert.Equal(t, 0, q.Len())
	assert.Equal(t, 1, speaker.stopped)
}

type recordingPlayer struct {
	mu     sync.Mutex
	sounds []presentation.SoundType
}

func (p *recordingPlayer) Play(_ context.Context, s presentation.SoundType) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sounds = append(p.sounds, s)
	return nil
}

func TestAnnouncer(t *testing.T) {
	player := &recordingPlayer{}
	speaker := &recordingSpeaker{}
	speech := NewSpeechQueue(speaker, time.Hour, nil)
	a := NewAnnouncer(player, speech, nil)

	tx := &domain.Transaction{ID: "t"}
	a.Announce(context.Background(), presentation.Item{Transaction: tx, Sound: presentation.SoundSigUSD, Label: "SigmaUSD"})
	a.Announce(context.Background(), presentation.Item{Transaction: tx, Sound: presentation.SoundTiny})

	assert.Equal(t, []presentation.SoundType{presentation.SoundSigUSD, presentation.SoundTiny}, player.sounds)
	assert.Equal(t, 1, speech.Len())

	a.Stop()
	assert.Equal(t, 0, speech.Len())
	assert.Equal(t, 1, speaker.stopped)
}

func TestAnnouncer_NilParts(t *testing.T) {
	a := NewAnnouncer(nil, nil, nil)
	a.Announce(context.Background(), presentation.Item{Sound: presentation.SoundDEX, Label: "x"})
	a.Stop()
}
