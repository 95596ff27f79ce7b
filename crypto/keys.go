package crypto

import (
	"crypto/ecdsa"
	"crypto/rand"
	"fmt"

	"github.com/btcsuite/btcutil/bech32"
	"github.com/ethereum/go-ethereum/crypto"
)

// AddressPrefix is the human-readable part of a bech32 account address.
type AddressPrefix string

// FWDPrefix tags accounts on the forward market network.
const FWDPrefix AddressPrefix = "fwd"

const addressLength = 20

// Address is a prefixed 20-byte account identifier. Engines store and
// compare addresses as their bech32 string form.
type Address struct {
	prefix AddressPrefix
	bytes  []byte
}

// NewAddress wraps raw payload bytes. The payload length is a programming
// invariant, not user input, so violations panic.
func NewAddress(prefix AddressPrefix, b []byte) Address {
	if len(b) != addressLength {
		panic(fmt.Sprintf("address payload must be %d bytes", addressLength))
	}
	return Address{prefix: prefix, bytes: b}
}

// DecodeAddress parses a bech32 account string.
func DecodeAddress(encoded string) (Address, error) {
	prefix, data, err := bech32.Decode(encoded)
	if err != nil {
		return Address{}, fmt.Errorf("decode address: %w", err)
	}
	payload, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return Address{}, fmt.Errorf("decode address: %w", err)
	}
	if len(payload) != addressLength {
		return Address{}, fmt.Errorf("decode address: payload is %d bytes, want %d", len(payload), addressLength)
	}
	return Address{prefix: AddressPrefix(prefix), bytes: payload}, nil
}

func (a Address) String() string {
	grouped, err := bech32.ConvertBits(a.bytes, 8, 5, true)
	if err != nil {
		panic(err)
	}
	encoded, err := bech32.Encode(string(a.prefix), grouped)
	if err != nil {
		panic(err)
	}
	return encoded
}

func (a Address) Bytes() []byte { return a.bytes }

// Prefix returns the address's human-readable prefix.
func (a Address) Prefix() AddressPrefix { return a.prefix }

// PrivateKey wraps a secp256k1 signing key.
type PrivateKey struct {
	*ecdsa.PrivateKey
}

// PublicKey wraps the verifying half of a key pair.
type PublicKey struct {
	*ecdsa.PublicKey
}

// GeneratePrivateKey draws a fresh secp256k1 key.
func GeneratePrivateKey() (*PrivateKey, error) {
	key, err := ecdsa.GenerateKey(crypto.S256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}

// PrivateKeyFromBytes rehydrates a key from its serialized form.
func PrivateKeyFromBytes(b []byte) (*PrivateKey, error) {
	key, err := crypto.ToECDSA(b)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}

// Bytes serializes the private key.
func (k *PrivateKey) Bytes() []byte {
	return crypto.FromECDSA(k.PrivateKey)
}

func (k *PrivateKey) PubKey() *PublicKey {
	return &PublicKey{&k.PrivateKey.PublicKey}
}

// Address derives the account address from the public key, keccak style.
func (k *PublicKey) Address() Address {
	return NewAddress(FWDPrefix, crypto.PubkeyToAddress(*k.PublicKey).Bytes())
}
