package crypto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerateValidatorKeyRoundTripsThroughHex(t *testing.T) {
	s, err := GenerateValidatorKey()
	require.NoError(t, err)

	restored, err := ValidatorSignerFromPrivateKeyHex(s.PrivateKeyHex())
	require.NoError(t, err)
	require.Equal(t, s.Address(), restored.Address())
	require.Equal(t, s.PublicKeyHex(), restored.PublicKeyHex())
}

func TestSignAndVerify(t *testing.T) {
	s, err := GenerateValidatorKey()
	require.NoError(t, err)

	msg := []byte("deterministic fin digest")
	sig := s.Sign(msg)
	require.True(t, VerifyValidatorSignature(s.PublicKey(), msg, sig))
}

func TestVerifyRejectsTamperedMessage(t *testing.T) {
	s, err := GenerateValidatorKey()
	require.NoError(t, err)

	sig := s.Sign([]byte("original"))
	require.False(t, VerifyValidatorSignature(s.PublicKey(), []byte("tampered"), sig))
}

func TestVerifyRejectsWrongSignatureLength(t *testing.T) {
	s, err := GenerateValidatorKey()
	require.NoError(t, err)
	require.False(t, VerifyValidatorSignature(s.PublicKey(), []byte("msg"), []byte("short")))
}
