package types

import (
	"encoding/hex"
	"errors"
	"strings"

	"golang.org/x/crypto/sha3"
)

// Address is the first 20 bytes of the Keccak-256 hash of a validator's
// public key.
type Address [20]byte

// AddressFromPubKey derives an Address from a raw Ed25519 public key.
func AddressFromPubKey(pub []byte) Address {
	h := sha3.NewLegacyKeccak256()
	h.Write(pub)
	sum := h.Sum(nil)
	var a Address
	copy(a[:], sum[:20])
	return a
}

// String returns the EIP-55 checksummed hex form, so every address the
// node prints or returns over RPC carries the mixed-case checksum clients
// already expect.
func (a Address) String() string { return eip55(a[:]) }

// eip55 computes the checksummed hex address string from a 20-byte raw
// address: lowercase hex, then uppercase each hex digit whose
// corresponding nibble of Keccak-256(lowercase_hex) is >= 8.
func eip55(addr20 []byte) string {
	hexaddr := hex.EncodeToString(addr20)
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(hexaddr))
	hash := h.Sum(nil)

	out := make([]byte, 2+len(hexaddr))
	copy(out, "0x")
	for i, c := range []byte(hexaddr) {
		if c >= '0' && c <= '9' {
			out[2+i] = c
			continue
		}
		hb := hash[i>>1]
		var nibble byte
		if i%2 == 0 {
			nibble = (hb >> 4) & 0x0f
		} else {
			nibble = hb & 0x0f
		}
		if nibble >= 8 {
			out[2+i] = byte(strings.ToUpper(string(c))[0])
		} else {
			out[2+i] = c
		}
	}
	return string(out)
}

func (a Address) IsZero() bool { return a == Address{} }

func AddressFromHex(s string) (Address, error) {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return Address{}, err
	}
	var a Address
	if len(b) != len(a) {
		return Address{}, errors.New("types: address must be 20 bytes")
	}
	copy(a[:], b)
	return a, nil
}
