package domain

import "encoding/json"

// NodeInfo is the network status snapshot carried by "info" feed events.
// Raw keeps the full payload for the renderer; only the heights are interpreted.
type NodeInfo struct {
	FullHeight    int64           `json:"fullHeight"`
	HeadersHeight int64           `json:"headersHeight"`
	Raw           json.RawMessage `json:"-"`
}

// UnmarshalJSON decodes the heights and keeps the raw payload.
func (n *NodeInfo) UnmarshalJSON(data []byte) error {
	var v struct {
		FullHeight    int64 `json:"fullHeight"`
		HeadersHeight int64 `json:"headersHeight"`
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	n.FullHeight = v.FullHeight
	n.HeadersHeight = v.HeadersHeight
	n.Raw = append(json.RawMessage(nil), data...)
	return nil
}

// MarshalJSON returns the raw payload when available.
func (n NodeInfo) MarshalJSON() ([]byte, error) {
	if len(n.Raw) > 0 {
		return n.Raw, nil
	}
	type plain NodeInfo
	return json.Marshal(plain(n))
}

// BlockInfo is the newest confirmed block header, used as a liveness signal.
type BlockInfo struct {
	ID        string `json:"id,omitempty"`
	Height    int64  `json:"height,omitempty"`
	Timestamp int64  `json:"timestamp"` // ms
}
