package feeder

import (
	"github.com/shopspring/decimal"

	"ergo-live/internal/domain"
	"ergo-live/internal/netflow"
	"ergo-live/internal/presentation"
)

// Rule labels transactions touching Address.
type Rule struct {
	Address string
	Label   string
	Sound   presentation.SoundType
	Style   string
}

// Classification is the display metadata attached to a transaction.
type Classification struct {
	Label string
	Sound presentation.SoundType
	Style string
}

// Classifier assigns labels and sounds. The first rule, in configuration
// order, whose address appears on any leg wins. Unmatched transactions get
// the tiny sound when the native amount moved is below TinyThreshold, and
// DefaultSound otherwise.
type Classifier struct {
	rules         []Rule
	index         map[string]int
	tinyThreshold decimal.Decimal
	defaultSound  presentation.SoundType
}

// NewClassifier creates a Classifier. tinyThreshold is in raw native units;
// zero disables the tiny class.
func NewClassifier(rules []Rule, tinyThreshold uint64, defaultSound presentation.SoundType) *Classifier {
	c := &Classifier{
		rules:         append([]Rule(nil), rules...),
		index:         make(map[string]int, len(rules)),
		tinyThreshold: decimal.NewFromUint64(tinyThreshold),
		defaultSound:  defaultSound,
	}
	for i, r := range c.rules {
		if _, ok := c.index[r.Address]; !ok && r.Address != "" {
			c.index[r.Address] = i
		}
	}
	return c
}

// Classify returns the display metadata for tx.
func (c *Classifier) Classify(tx *domain.Transaction, transfers netflow.Transfers) Classification {
	best := -1
	consider := func(addr string) {
		if i, ok := c.index[addr]; ok && (best < 0 || i < best) {
			best = i
		}
	}
	for _, in := range tx.Inputs {
		consider(in.Address())
	}
	for _, out := range tx.Outputs {
		consider(out.Address)
	}
	if best >= 0 {
		r := c.rules[best]
		return Classification{Label: r.Label, Sound: r.Sound, Style: r.Style}
	}

	if c.tinyThreshold.IsPositive() {
		if erg, ok := transfers[domain.NativeTokenID]; ok && erg.Amount.LessThan(c.tinyThreshold) && len(transfers.Moved()) <= 1 {
			return Classification{Sound: presentation.SoundTiny}
		}
	}
	return Classification{Sound: c.defaultSound}
}
