// Package txpool holds the signed transaction type and the in-memory,
// gas-price-ordered pool that feeds block proposals.
package txpool

import (
	"crypto/ed25519"
	"encoding/binary"
	"errors"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/mikan-network/mikan-node/pkg/blob"
)

// Transaction is an immutable signed transfer carrying four blobs. Build
// with NewTransaction, which computes and caches the hash; never mutate a
// Transaction after construction.
type Transaction struct {
	SenderPubKey    ed25519.PublicKey
	RecipientPubKey ed25519.PublicKey
	Signature       []byte
	Value           uint64
	Blobs           [4]blob.Blob
	Nonce           uint64
	GasPrice        uint64

	hash [32]byte
}

// NewTransaction builds and signs a transaction with the sender's private
// key, computing the cached hash over every field but the signature.
func NewTransaction(
	senderPub, recipientPub ed25519.PublicKey,
	value uint64,
	blobs [4]blob.Blob,
	nonce, gasPrice uint64,
	senderPriv ed25519.PrivateKey,
) (*Transaction, error) {
	for _, b := range blobs {
		if len(b) != blob.BlobSize {
			return nil, blob.ErrWrongSize
		}
	}
	tx := &Transaction{
		SenderPubKey:    senderPub,
		RecipientPubKey: recipientPub,
		Value:           value,
		Blobs:           blobs,
		Nonce:           nonce,
		GasPrice:        gasPrice,
	}
	tx.hash = tx.computeHash()
	tx.Signature = ed25519.Sign(senderPriv, tx.hash[:])
	return tx, nil
}

// Hash returns the cached transaction hash.
func (tx *Transaction) Hash() [32]byte { return tx.hash }

// NewSignedTransaction builds a transaction from a signature produced
// off-process (the RPC submission path: the caller already holds a
// signature over the fields below and never hands this node a private
// key). The hash is recomputed from the fields exactly as NewTransaction
// would; callers must still call Validate before trusting the result.
func NewSignedTransaction(
	senderPub, recipientPub ed25519.PublicKey,
	value uint64,
	blobs [4]blob.Blob,
	nonce, gasPrice uint64,
	signature []byte,
) (*Transaction, error) {
	for _, b := range blobs {
		if len(b) != blob.BlobSize {
			return nil, blob.ErrWrongSize
		}
	}
	tx := &Transaction{
		SenderPubKey:    senderPub,
		RecipientPubKey: recipientPub,
		Value:           value,
		Blobs:           blobs,
		Nonce:           nonce,
		GasPrice:        gasPrice,
		Signature:       signature,
	}
	tx.hash = tx.computeHash()
	return tx, nil
}

// computeHash is Keccak-256 over every field except the signature: sender
// and recipient keys, value, the four blobs, nonce and gas price, in that
// order, integers big-endian and nothing length-prefixed.
func (tx *Transaction) computeHash() [32]byte {
	h := crypto.NewKeccakState()
	h.Write(tx.SenderPubKey)
	h.Write(tx.RecipientPubKey)
	var valBuf [8]byte
	binary.BigEndian.PutUint64(valBuf[:], tx.Value)
	h.Write(valBuf[:])
	for _, b := range tx.Blobs {
		h.Write(b)
	}
	var nonceBuf [8]byte
	binary.BigEndian.PutUint64(nonceBuf[:], tx.Nonce)
	h.Write(nonceBuf[:])
	var gasBuf [8]byte
	binary.BigEndian.PutUint64(gasBuf[:], tx.GasPrice)
	h.Write(gasBuf[:])
	var out [32]byte
	h.Read(out[:])
	return out
}

var (
	ErrHashMismatch = errors.New("txpool: recomputed hash does not match cached hash")
	ErrBadSignature = errors.New("txpool: signature verification failed")
)

// Validate recomputes the hash and verifies the signature over it; both
// must hold for the transaction to be admitted to the pool.
func (tx *Transaction) Validate() bool {
	if tx.computeHash() != tx.hash {
		return false
	}
	if len(tx.SenderPubKey) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(tx.SenderPubKey, tx.hash[:], tx.Signature)
}

// FlattenBlobs returns this transaction's blobs in field order, used when
// concatenating every transaction's blobs into a block's DA payload.
func (tx *Transaction) FlattenBlobs() []blob.Blob {
	out := make([]blob.Blob, len(tx.Blobs))
	copy(out, tx.Blobs[:])
	return out
}
