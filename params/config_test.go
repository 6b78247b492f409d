package params

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mikan-network/mikan-node/pkg/crypto"
)

func TestConfigSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	cfg := DefaultConfig()
	cfg.Moniker = "test-node"
	require.NoError(t, cfg.Save(path))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, "test-node", loaded.Moniker)
	require.Equal(t, cfg.Logging.Level, loaded.Logging.Level)
}

func TestGenesisSaveLoadBuildsValidatorSet(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "genesis.json")

	s1, err := crypto.GenerateValidatorKey()
	require.NoError(t, err)
	s2, err := crypto.GenerateValidatorKey()
	require.NoError(t, err)

	g := GenesisFromValidators("mikan-testnet", []*crypto.ValidatorSigner{s1, s2})
	require.NoError(t, g.Save(path))

	loadedGenesis, set, err := LoadGenesis(path)
	require.NoError(t, err)
	require.Equal(t, "mikan-testnet", loadedGenesis.ChainID)
	require.Equal(t, int64(2), set.TotalPower())

	info, ok := set.Get(s1.Address())
	require.True(t, ok)
	require.Equal(t, s1.PublicKey(), info.PublicKey)
}

func TestPrivValidatorKeySaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "priv_validator_key.json")

	signer, err := crypto.GenerateValidatorKey()
	require.NoError(t, err)
	require.NoError(t, SavePrivValidatorKey(path, signer))

	loaded, err := LoadPrivValidatorKey(path)
	require.NoError(t, err)
	require.Equal(t, signer.Address(), loaded.Address())
}
