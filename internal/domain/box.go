package domain

import "github.com/shopspring/decimal"

// NativeTokenID is the pseudo token identifier used for the network's native unit.
const NativeTokenID = "ERG"

// NativeDecimals is the fixed decimal count of the native unit (nanoErg).
const NativeDecimals = 9

// Asset is a token balance entry carried by a box.
type Asset struct {
	TokenID  string          `json:"tokenId"`
	Amount   decimal.Decimal `json:"amount"`
	Decimals *int            `json:"decimals,omitempty"` // nil when the record does not declare it
	Name     string          `json:"name,omitempty"`
}

// Box is a UTXO-style record. Boxes are immutable once created;
// use Clone before handing a cached box to code that may modify it.
type Box struct {
	ID                 string  `json:"boxId"`
	TransactionID      string  `json:"transactionId,omitempty"` // producing transaction
	Index              int     `json:"index"`
	Value              uint64  `json:"value"`
	ErgoTree           string  `json:"ergoTree,omitempty"`
	Address            string  `json:"address,omitempty"` // derived from ErgoTree, empty if unknown
	Assets             []Asset `json:"assets,omitempty"`
	CreationHeight     int64   `json:"creationHeight,omitempty"`
	SpentTransactionID *string `json:"spentTransactionId,omitempty"`
}

// Clone returns a structural copy of the box.
func (b *Box) Clone() *Box {
	if b == nil {
		return nil
	}
	c := *b
	if b.Assets != nil {
		c.Assets = make([]Asset, len(b.Assets))
		for i, a := range b.Assets {
			c.Assets[i] = a
			if a.Decimals != nil {
				d := *a.Decimals
				c.Assets[i].Decimals = &d
			}
		}
	}
	if b.SpentTransactionID != nil {
		s := *b.SpentTransactionID
		c.SpentTransactionID = &s
	}
	return &c
}

// TokenIDs returns token identifiers of the box's assets in declaration order.
func (b *Box) TokenIDs() []string {
	ids := make([]string, 0, len(b.Assets))
	for _, a := range b.Assets {
		if a.TokenID != "" {
			ids = append(ids, a.TokenID)
		}
	}
	return ids
}
