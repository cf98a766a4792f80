package presentation

import (
	"context"
	"fmt"
	"time"

	"ergo-live/internal/domain"
	"ergo-live/internal/netflow"
)

// SoundType classifies the notification sound played on delivery.
type SoundType string

const (
	SoundNone   SoundType = ""
	SoundSigUSD SoundType = "sigusd"
	SoundP2P    SoundType = "p2p"
	SoundDEX    SoundType = "dex"
	SoundMixer  SoundType = "mixer"
	SoundTiny   SoundType = "tiny"
	SoundRosen  SoundType = "rosen"
)

// ParseSoundType validates a configured sound name.
func ParseSoundType(s string) (SoundType, error) {
	switch t := SoundType(s); t {
	case SoundNone, SoundSigUSD, SoundP2P, SoundDEX, SoundMixer, SoundTiny, SoundRosen:
		return t, nil
	default:
		return SoundNone, fmt.Errorf("unknown sound type %q", s)
	}
}

// Item is one transaction waiting to be displayed.
type Item struct {
	Transaction *domain.Transaction `json:"transaction"`
	Sound       SoundType           `json:"sound,omitempty"`
	Label       string              `json:"label,omitempty"`
	Style       string              `json:"style,omitempty"`
	Transfers   []*netflow.Transfer `json:"transfers,omitempty"`
}

// ID returns the transaction id of the item.
func (it Item) ID() string {
	if it.Transaction == nil {
		return ""
	}
	return it.Transaction.ID
}

// Delivery is an item handed to the renderer.
type Delivery struct {
	Item
	Seq         uint64    `json:"seq"`
	DeliveredAt time.Time `json:"deliveredAt"`
}

// Sink receives every delivery in order. Errors are logged by the queue.
type Sink interface {
	Deliver(ctx context.Context, d Delivery) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, d Delivery) error

// Deliver calls f.
func (f SinkFunc) Deliver(ctx context.Context, d Delivery) error {
	return f(ctx, d)
}

// Announcer performs the audible side effect of a delivery.
type Announcer interface {
	Announce(ctx context.Context, it Item)
	// Stop silences anything still queued or playing.
	Stop()
}
