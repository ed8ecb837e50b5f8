package crypto

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/btcsuite/btcutil/bech32"
	"github.com/ethereum/go-ethereum/crypto"
)

// AddressPrefix defines the different types of human-readable address prefixes.
type AddressPrefix string

const (
	AccountPrefix AddressPrefix = "vsl"
	ModulePrefix  AddressPrefix = "vslmod"
)

// AddressLength is the byte length of every account identifier.
const AddressLength = 20

// ErrUnknownPrefix is returned when a bech32 string carries a prefix other
// than AccountPrefix or ModulePrefix.
var ErrUnknownPrefix = errors.New("crypto: unknown address prefix")

func (p AddressPrefix) valid() bool {
	return p == AccountPrefix || p == ModulePrefix
}

// Address represents a 20-byte account identifier with a human readable prefix.
// Owners, liquidators, redeemers and module accounts all share this type.
type Address struct {
	prefix AddressPrefix
	bytes  []byte
}

func NewAddress(prefix AddressPrefix, b []byte) Address {
	if len(b) != AddressLength {
		panic("address must be 20 bytes long")
	}
	cp := make([]byte, AddressLength)
	copy(cp, b)
	return Address{prefix: prefix, bytes: cp}
}

// ModuleAddress deterministically derives the account of a protocol module
// (vessel pool, gas pool, stability pool) from its name.
func ModuleAddress(name string) Address {
	hash := crypto.Keccak256([]byte("module/" + name))
	return NewAddress(ModulePrefix, hash[len(hash)-AddressLength:])
}

// String renders the bech32 form. The zero Address renders as "".
func (a Address) String() string {
	if len(a.bytes) == 0 {
		return ""
	}
	data, err := bech32.ConvertBits(a.bytes, 8, 5, true)
	if err != nil {
		panic(err)
	}
	encoded, err := bech32.Encode(string(a.prefix), data)
	if err != nil {
		panic(err)
	}
	return encoded
}

// MarshalText implements encoding.TextMarshaler.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. An empty string decodes
// to the zero Address.
func (a *Address) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*a = Address{}
		return nil
	}
	decoded, err := DecodeAddress(string(text))
	if err != nil {
		return err
	}
	*a = decoded
	return nil
}

func (a Address) Bytes() []byte {
	return a.bytes
}

// Prefix returns the human-readable prefix associated with the address.
func (a Address) Prefix() AddressPrefix {
	return a.prefix
}

// IsZero reports whether the address is unset or all zero bytes.
func (a Address) IsZero() bool {
	for _, b := range a.bytes {
		if b != 0 {
			return false
		}
	}
	return true
}

// Equal compares the underlying bytes, ignoring the prefix.
func (a Address) Equal(other Address) bool {
	return bytes.Equal(a.bytes, other.bytes)
}

// Key returns a string usable as a map key.
func (a Address) Key() string {
	return string(a.bytes)
}

// DecodeAddress parses a bech32 account or module address.
func DecodeAddress(encoded string) (Address, error) {
	hrp, data, err := bech32.Decode(encoded)
	if err != nil {
		return Address{}, fmt.Errorf("crypto: decode %q: %w", encoded, err)
	}
	prefix := AddressPrefix(hrp)
	if !prefix.valid() {
		return Address{}, fmt.Errorf("%w %q", ErrUnknownPrefix, hrp)
	}
	raw, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return Address{}, fmt.Errorf("crypto: convert %q: %w", encoded, err)
	}
	if len(raw) != AddressLength {
		return Address{}, fmt.Errorf("crypto: address %q has %d bytes", encoded, len(raw))
	}
	return NewAddress(prefix, raw), nil
}

// AddressFromBytes restores an address persisted as raw bytes. Empty input
// yields the zero Address.
func AddressFromBytes(prefix AddressPrefix, b []byte) (Address, error) {
	if len(b) == 0 {
		return Address{}, nil
	}
	if len(b) != AddressLength {
		return Address{}, fmt.Errorf("invalid address length %d", len(b))
	}
	return NewAddress(prefix, b), nil
}
