// Package ergo derives human-readable addresses from ErgoTree scripts.
package ergo

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/blake2b"
)

// Network selects the address prefix.
type Network byte

const (
	Mainnet Network = 0x00
	Testnet Network = 0x10
)

// ParseNetwork maps "mainnet" / "testnet" to a Network.
func ParseNetwork(s string) (Network, error) {
	switch strings.ToLower(s) {
	case "", "mainnet":
		return Mainnet, nil
	case "testnet":
		return Testnet, nil
	default:
		return 0, fmt.Errorf("unknown network %q", s)
	}
}

// AddressType is the low nibble of the address prefix byte.
type AddressType byte

const (
	P2PK AddressType = 0x01
	P2SH AddressType = 0x02
	P2S  AddressType = 0x03
)

const (
	checksumLen   = 4
	pubKeyLen     = 33
	scriptHashLen = 24
)

var (
	p2pkPrefix = []byte{0x00, 0x08, 0xcd}
	p2shPrefix = mustHex("00ea02d193b4cbe4e3010e040004300e18")
	p2shSuffix = mustHex("d40801")
)

var (
	// ErrEmptyTree is returned for an empty ErgoTree.
	ErrEmptyTree = errors.New("empty ergo tree")
	// ErrInvalidAddress is returned when an address fails to decode.
	ErrInvalidAddress = errors.New("invalid address")
)

// Codec derives and validates base58 addresses for one network.
type Codec struct {
	network Network
}

// NewCodec creates a codec for network.
func NewCodec(network Network) *Codec {
	return &Codec{network: network}
}

// Address derives the address owning a box guarded by the hex-encoded tree.
func (c *Codec) Address(ergoTree string) (string, error) {
	if ergoTree == "" {
		return "", ErrEmptyTree
	}
	tree, err := hex.DecodeString(ergoTree)
	if err != nil {
		return "", fmt.Errorf("decode ergo tree: %w", err)
	}

	switch {
	case len(tree) == len(p2pkPrefix)+pubKeyLen && bytes.HasPrefix(tree, p2pkPrefix):
		return c.encode(P2PK, tree[len(p2pkPrefix):]), nil
	case len(tree) == len(p2shPrefix)+scriptHashLen+len(p2shSuffix) &&
		bytes.HasPrefix(tree, p2shPrefix) && bytes.HasSuffix(tree, p2shSuffix):
		hash := tree[len(p2shPrefix) : len(p2shPrefix)+scriptHashLen]
		return c.encode(P2SH, hash), nil
	default:
		return c.encode(P2S, tree), nil
	}
}

// Type validates address against this network and returns its type.
// A well-formed address with another network's prefix is rejected.
func (c *Codec) Type(address string) (AddressType, error) {
	raw, err := base58.Decode(address)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if len(raw) < 1+checksumLen+1 {
		return 0, fmt.Errorf("%w: too short", ErrInvalidAddress)
	}
	body, checksum := raw[:len(raw)-checksumLen], raw[len(raw)-checksumLen:]
	sum := blake2b.Sum256(body)
	if !bytes.Equal(sum[:checksumLen], checksum) {
		return 0, fmt.Errorf("%w: checksum mismatch", ErrInvalidAddress)
	}
	prefix := body[0]
	if Network(prefix&0xf0) != c.network {
		return 0, fmt.Errorf("%w: wrong network", ErrInvalidAddress)
	}
	typ := AddressType(prefix & 0x0f)
	content := body[1:]
	switch typ {
	case P2PK:
		if len(content) != pubKeyLen {
			return 0, fmt.Errorf("%w: bad public key length", ErrInvalidAddress)
		}
	case P2SH:
		if len(content) != scriptHashLen {
			return 0, fmt.Errorf("%w: bad script hash length", ErrInvalidAddress)
		}
	case P2S:
	default:
		return 0, fmt.Errorf("%w: unknown type %d", ErrInvalidAddress, typ)
	}
	return typ, nil
}

func (c *Codec) encode(typ AddressType, content []byte) string {
	buf := make([]byte, 0, 1+len(content)+checksumLen)
	buf = append(buf, byte(c.network)+byte(typ))
	buf = append(buf, content...)
	sum := blake2b.Sum256(buf)
	buf = append(buf, sum[:checksumLen]...)
	return base58.Encode(buf)
}

func mustHex(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		panic(err)
	}
	return b
}
