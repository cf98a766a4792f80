// Package netflow computes per-token net asset movement of a transaction:
// how much was minted, how much was burned, and how much changed hands
// between distinct addresses.
package netflow

import (
	"sort"

	"github.com/shopspring/decimal"

	"ergo-live/internal/domain"
)

// DecimalsLookup resolves a token's decimal count when the transaction's
// own records do not declare it.
type DecimalsLookup interface {
	Decimals(tokenID string) (int, bool)
}

// Transfer is the net movement of one token within a transaction.
// Amounts are raw integer units; use Scaled for display values.
type Transfer struct {
	TokenID  string          `json:"tokenId"`
	Decimals int             `json:"decimals"`
	Amount   decimal.Decimal `json:"amount"`
	Minted   decimal.Decimal `json:"minted"`
	Burned   decimal.Decimal `json:"burned"`
	TotalIn  decimal.Decimal `json:"totalIn"`
	TotalOut decimal.Decimal `json:"totalOut"`
}

// Scaled returns v shifted by the token's decimals.
func (t *Transfer) Scaled(v decimal.Decimal) decimal.Decimal {
	return v.Shift(int32(-t.Decimals))
}

// Transfers maps token id to its net movement.
type Transfers map[string]*Transfer

// Sorted returns transfers with the native unit first, then by token id.
func (ts Transfers) Sorted() []*Transfer {
	out := make([]*Transfer, 0, len(ts))
	for _, t := range ts {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].TokenID, out[j].TokenID
		if a == domain.NativeTokenID || b == domain.NativeTokenID {
			return a == domain.NativeTokenID && b != domain.NativeTokenID
		}
		return a < b
	})
	return out
}

// Moved returns the transfers with a non-zero amount, minted or burned
// value, in Sorted order.
func (ts Transfers) Moved() []*Transfer {
	var out []*Transfer
	for _, t := range ts.Sorted() {
		if !t.Amount.IsZero() || !t.Minted.IsZero() || !t.Burned.IsZero() {
			out = append(out, t)
		}
	}
	return out
}

// Anomaly describes a transfer that violates conservation. Well-formed
// source data never produces one.
type Anomaly struct {
	TokenID string `json:"tokenId"`
	Reason  string `json:"reason"`
}

// Anomalies reports tokens whose figures are inconsistent.
func (ts Transfers) Anomalies() []Anomaly {
	var out []Anomaly
	for _, t := range ts.Sorted() {
		if t.Minted.IsPositive() && t.Burned.IsPositive() {
			out = append(out, Anomaly{TokenID: t.TokenID, Reason: "minted and burned"})
		}
		if t.Amount.Add(t.Minted).GreaterThan(t.TotalOut) {
			out = append(out, Anomaly{TokenID: t.TokenID, Reason: "amount plus minted exceeds outputs"})
		}
		if t.Amount.Add(t.Burned).GreaterThan(t.TotalIn) {
			out = append(out, Anomaly{TokenID: t.TokenID, Reason: "amount plus burned exceeds inputs"})
		}
	}
	return out
}

// balances holds per-address and total amounts per token for one side.
type balances struct {
	byAddress map[string]map[string]decimal.Decimal
	total     map[string]decimal.Decimal
}

func newBalances() balances {
	return balances{
		byAddress: make(map[string]map[string]decimal.Decimal),
		total:     make(map[string]decimal.Decimal),
	}
}

func (b balances) add(address, tokenID string, amount decimal.Decimal) {
	m, ok := b.byAddress[address]
	if !ok {
		m = make(map[string]decimal.Decimal)
		b.byAddress[address] = m
	}
	m[tokenID] = m[tokenID].Add(amount)
	b.total[tokenID] = b.total[tokenID].Add(amount)
}

// ComputeTransfers derives the net flow of every token in tx. Legs without
// an address are ignored. lookup may be nil.
func ComputeTransfers(tx *domain.Transaction, lookup DecimalsLookup) Transfers {
	in := newBalances()
	out := newBalances()
	declared := map[string]int{domain.NativeTokenID: domain.NativeDecimals}

	collect := func(side balances, box *domain.Box) {
		if box == nil || box.Address == "" {
			return
		}
		side.add(box.Address, domain.NativeTokenID, decimal.NewFromUint64(box.Value))
		for _, a := range box.Assets {
			if a.TokenID == "" {
				continue
			}
			if _, ok := declared[a.TokenID]; !ok && a.Decimals != nil {
				declared[a.TokenID] = *a.Decimals
			}
			side.add(box.Address, a.TokenID, a.Amount)
		}
	}

	if tx == nil {
		return Transfers{}
	}
	for _, input := range tx.Inputs {
		collect(in, input.Box)
	}
	for i := range tx.Outputs {
		collect(out, &tx.Outputs[i])
	}

	result := make(Transfers)
	tokens := make(map[string]struct{})
	for id := range in.total {
		tokens[id] = struct{}{}
	}
	for id := range out.total {
		tokens[id] = struct{}{}
	}

	for id := range tokens {
		t := &Transfer{
			TokenID:  id,
			Decimals: decimalsFor(id, declared, lookup),
			TotalIn:  in.total[id],
			TotalOut: out.total[id],
		}

		switch {
		case t.TotalOut.GreaterThan(t.TotalIn):
			t.Minted = t.TotalOut.Sub(t.TotalIn)
		case t.TotalIn.GreaterThan(t.TotalOut):
			t.Burned = t.TotalIn.Sub(t.TotalOut)
		}

		gross := decimal.Zero
		for addr, outAssets := range out.byAddress {
			o, ok := outAssets[id]
			if !ok {
				continue
			}
			received := o.Sub(in.byAddress[addr][id])
			if received.IsPositive() {
				gross = gross.Add(received)
			}
		}

		if t.Minted.IsPositive() {
			gross = decimal.Max(gross.Sub(t.Minted), decimal.Zero)
		}
		t.Amount = gross

		result[id] = t
	}
	return result
}

func decimalsFor(id string, declared map[string]int, lookup DecimalsLookup) int {
	if d, ok := declared[id]; ok {
		return d
	}
	if lookup != nil {
		if d, ok := lookup.Decimals(id); ok {
			return d
		}
	}
	return 0
}
