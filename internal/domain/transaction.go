package domain

import "encoding/json"

// Input is a reference to the box a transaction spends.
// Box is nil until the reference has been resolved.
type Input struct {
	BoxID string
	Box   *Box
}

// Resolved reports whether the input carries its full box record.
func (in Input) Resolved() bool {
	return in.Box != nil
}

// Address returns the owning address of the spent box, or "" when unknown.
func (in Input) Address() string {
	if in.Box == nil {
		return ""
	}
	return in.Box.Address
}

// MarshalJSON renders a resolved input as its box record and an
// unresolved one as a bare {"boxId": ...} reference.
func (in Input) MarshalJSON() ([]byte, error) {
	if in.Box != nil {
		return json.Marshal(in.Box)
	}
	return json.Marshal(struct {
		BoxID string `json:"boxId"`
	}{in.BoxID})
}

// UnmarshalJSON accepts either a bare reference or a full box record.
// A record without an ergoTree is treated as a bare reference.
func (in *Input) UnmarshalJSON(data []byte) error {
	var b Box
	if err := json.Unmarshal(data, &b); err != nil {
		return err
	}
	in.BoxID = b.ID
	in.Box = nil
	if b.ErgoTree != "" {
		in.Box = &b
	}
	return nil
}

// Transaction is a pending transaction as delivered by the push feed.
// A transaction reappearing with the same ID means "still pending".
type Transaction struct {
	ID                string  `json:"id"`
	Inputs            []Input `json:"inputs"`
	Outputs           []Box   `json:"outputs"`
	Size              int     `json:"size,omitempty"`
	CreationTimestamp int64   `json:"creationTimestamp,omitempty"`
}

// Clone returns a structural copy of the transaction and all nested boxes.
func (t *Transaction) Clone() *Transaction {
	if t == nil {
		return nil
	}
	c := *t
	if t.Inputs != nil {
		c.Inputs = make([]Input, len(t.Inputs))
		for i, in := range t.Inputs {
			c.Inputs[i] = Input{BoxID: in.BoxID, Box: in.Box.Clone()}
		}
	}
	if t.Outputs != nil {
		c.Outputs = make([]Box, len(t.Outputs))
		for i := range t.Outputs {
			c.Outputs[i] = *t.Outputs[i].Clone()
		}
	}
	return &c
}

// BoxIDs returns every box identifier referenced by the transaction,
// inputs first, then outputs.
func (t *Transaction) BoxIDs() []string {
	ids := make([]string, 0, len(t.Inputs)+len(t.Outputs))
	for _, in := range t.Inputs {
		if in.BoxID != "" {
			ids = append(ids, in.BoxID)
		}
	}
	for _, out := range t.Outputs {
		if out.ID != "" {
			ids = append(ids, out.ID)
		}
	}
	return ids
}

// TokenIDs returns the distinct token identifiers referenced by resolved
// inputs and outputs, in first-seen order.
func (t *Transaction) TokenIDs() []string {
	seen := make(map[string]struct{})
	var ids []string
	add := func(b *Box) {
		for _, id := range b.TokenIDs() {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	for _, in := range t.Inputs {
		if in.Box != nil {
			add(in.Box)
		}
	}
	for i := range t.Outputs {
		add(&t.Outputs[i])
	}
	return ids
}

// CollectTokenIDs returns the distinct token identifiers across transactions.
func CollectTokenIDs(txs []*Transaction) []string {
	seen := make(map[string]struct{})
	var ids []string
	for _, tx := range txs {
		for _, id := range tx.TokenIDs() {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	return ids
}
