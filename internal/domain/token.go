package domain

// Token describes a fungible asset. Token metadata never changes once minted,
// so it is cached for the lifetime of the process.
type Token struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Decimals       int    `json:"decimals"`
	Description    string `json:"description,omitempty"`
	Type           string `json:"type,omitempty"`
	EmissionAmount string `json:"emissionAmount,omitempty"` // decimal string, may exceed int64
	IconURL        string `json:"iconurl,omitempty"`
	FetchedAt      int64  `json:"-"` // ms, set when persisted
}

// NativeToken returns the synthetic metadata entry for the native unit.
func NativeToken() *Token {
	return &Token{
		ID:       NativeTokenID,
		Name:     NativeTokenID,
		Decimals: NativeDecimals,
		IconURL:  "https://ergexplorer.com/images/logo-new.png",
	}
}
