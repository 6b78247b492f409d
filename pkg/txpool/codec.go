package txpool

import (
	"crypto/ed25519"
	"encoding/binary"
	"errors"

	"github.com/mikan-network/mikan-node/pkg/blob"
)

// MarshalBinary writes the canonical, deterministic encoding used both on
// the wire and in the store: fixed-width integers big-endian, length
// prefixes before every variable-length field.
func (tx *Transaction) MarshalBinary() ([]byte, error) {
	var buf []byte
	buf = appendLenPrefixed(buf, tx.SenderPubKey)
	buf = appendLenPrefixed(buf, tx.RecipientPubKey)
	buf = appendLenPrefixed(buf, tx.Signature)
	buf = appendUint64(buf, tx.Value)
	for _, b := range tx.Blobs {
		buf = appendLenPrefixed(buf, b)
	}
	buf = appendUint64(buf, tx.Nonce)
	buf = appendUint64(buf, tx.GasPrice)
	buf = append(buf, tx.hash[:]...)
	return buf, nil
}

// UnmarshalBinary decodes a transaction previously produced by MarshalBinary.
// It does not re-validate the signature; callers that need that call
// Validate() explicitly.
func (tx *Transaction) UnmarshalBinary(data []byte) error {
	r := &reader{buf: data}
	sender, err := r.lenPrefixed()
	if err != nil {
		return err
	}
	recipient, err := r.lenPrefixed()
	if err != nil {
		return err
	}
	sig, err := r.lenPrefixed()
	if err != nil {
		return err
	}
	value, err := r.uint64()
	if err != nil {
		return err
	}
	var blobs [4]blob.Blob
	for i := range blobs {
		b, err := r.lenPrefixed()
		if err != nil {
			return err
		}
		blobs[i] = blob.Blob(b)
	}
	nonce, err := r.uint64()
	if err != nil {
		return err
	}
	gasPrice, err := r.uint64()
	if err != nil {
		return err
	}
	hash, err := r.fixed(32)
	if err != nil {
		return err
	}

	tx.SenderPubKey = ed25519.PublicKey(sender)
	tx.RecipientPubKey = ed25519.PublicKey(recipient)
	tx.Signature = sig
	tx.Value = value
	tx.Blobs = blobs
	tx.Nonce = nonce
	tx.GasPrice = gasPrice
	copy(tx.hash[:], hash)
	return nil
}

func appendLenPrefixed(buf []byte, data []byte) []byte {
	buf = appendUint32(buf, uint32(len(data)))
	return append(buf, data...)
}

func appendUint32(buf []byte, v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return append(buf, b[:]...)
}

func appendUint64(buf []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(buf, b[:]...)
}

type reader struct {
	buf []byte
	off int
}

var errTruncated = errors.New("txpool: truncated encoding")

func (r *reader) fixed(n int) ([]byte, error) {
	if len(r.buf)-r.off < n {
		return nil, errTruncated
	}
	out := r.buf[r.off : r.off+n]
	r.off += n
	return out, nil
}

func (r *reader) uint32() (uint32, error) {
	b, err := r.fixed(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (r *reader) uint64() (uint64, error) {
	b, err := r.fixed(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

func (r *reader) lenPrefixed() ([]byte, error) {
	n, err := r.uint32()
	if err != nil {
		return nil, err
	}
	return r.fixed(int(n))
}
