package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/mikan-network/mikan-node/pkg/types"
)

// ValidatorSigner manages an Ed25519 key pair for signing proposal streams;
// a validator's address is derived from its public key via Keccak.
type ValidatorSigner struct {
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
	address    types.Address
}

// GenerateValidatorKey creates a new random Ed25519 key pair.
func GenerateValidatorKey() (*ValidatorSigner, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate validator key: %w", err)
	}
	return &ValidatorSigner{
		privateKey: priv,
		publicKey:  pub,
		address:    types.AddressFromPubKey(pub),
	}, nil
}

// ValidatorSignerFromPrivateKeyHex loads a signer from a hex-encoded 64-byte
// Ed25519 private key, as stored in priv_validator_key.json.
func ValidatorSignerFromPrivateKeyHex(hexKey string) (*ValidatorSigner, error) {
	raw, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("failed to parse validator private key: %w", err)
	}
	if len(raw) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("validator private key must be %d bytes, got %d", ed25519.PrivateKeySize, len(raw))
	}
	priv := ed25519.PrivateKey(raw)
	pub := priv.Public().(ed25519.PublicKey)
	return &ValidatorSigner{
		privateKey: priv,
		publicKey:  pub,
		address:    types.AddressFromPubKey(pub),
	}, nil
}

func (s *ValidatorSigner) Address() types.Address { return s.address }

func (s *ValidatorSigner) PublicKey() ed25519.PublicKey { return s.publicKey }

func (s *ValidatorSigner) PrivateKeyHex() string {
	return hex.EncodeToString(s.privateKey)
}

func (s *ValidatorSigner) PublicKeyHex() string {
	return hex.EncodeToString(s.publicKey)
}

// Sign signs an arbitrary-length message (callers pass the Keccak-256 digest
// per the proposal-stream Fin signature contract) and returns the 64-byte
// Ed25519 signature.
func (s *ValidatorSigner) Sign(message []byte) []byte {
	return ed25519.Sign(s.privateKey, message)
}

// VerifyValidatorSignature verifies a 64-byte Ed25519 signature over message
// against pub.
func VerifyValidatorSignature(pub ed25519.PublicKey, message, signature []byte) bool {
	if len(signature) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(pub, message, signature)
}
