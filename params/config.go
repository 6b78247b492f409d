// Package params loads a node's on-disk configuration: config.toml
// (logging, moniker, runtime worker count), genesis.json (validator set),
// and priv_validator_key.json (Ed25519 key), all rooted at a single node
// home directory. Config files decode via BurntSushi/toml, with an
// optional .env overlay via joho/godotenv for env-based overrides.
package params

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/mikan-network/mikan-node/pkg/crypto"
	"github.com/mikan-network/mikan-node/pkg/types"
	"github.com/mikan-network/mikan-node/pkg/validator"
)

// Config is the decoded contents of config.toml.
type Config struct {
	Moniker string `toml:"moniker"`
	Logging struct {
		Level   string `toml:"level"`
		Verbose bool   `toml:"verbose"`
		File    string `toml:"file"`
	} `toml:"logging"`
	Runtime struct {
		Workers int `toml:"workers"` // not read by the node: store.NewAsyncStore always sizes its pool to GOMAXPROCS, floored at 4
	} `toml:"runtime"`
	RPC struct {
		Addr string `toml:"addr"`
	} `toml:"rpc"`
}

// DefaultConfig returns the config.toml contents `init` scaffolds.
func DefaultConfig() Config {
	var c Config
	c.Moniker = "mikan-node"
	c.Logging.Level = "info"
	c.Logging.Verbose = false
	c.Logging.File = "node.log"
	c.Runtime.Workers = 0
	c.RPC.Addr = ":8080"
	return c
}

// LoadConfig decodes config.toml at path, overlaying any VERBOSE env var
// (or a .env file alongside it) onto Logging.Verbose: environment
// variables take precedence over the file.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("params: decode %s: %w", path, err)
	}

	_ = godotenv.Load(filepath.Join(filepath.Dir(path), ".env"))
	if v := os.Getenv("VERBOSE"); v == "true" {
		cfg.Logging.Verbose = true
	}
	if addr := os.Getenv("API_ADDR"); addr != "" {
		cfg.RPC.Addr = addr
	}
	return cfg, nil
}

// Save writes c as config.toml at path.
func (c Config) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(c)
}

// GenesisValidator is one entry in genesis.json's validator set.
type GenesisValidator struct {
	Address   string `json:"address"`
	PublicKey string `json:"public_key"` // hex Ed25519 public key
	Power     int64  `json:"power"`
}

// Genesis is the decoded contents of genesis.json.
type Genesis struct {
	ChainID    string             `json:"chain_id"`
	Validators []GenesisValidator `json:"validators"`
}

// LoadGenesis decodes genesis.json at path and builds the validator.Set it
// describes.
func LoadGenesis(path string) (Genesis, *validator.Set, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Genesis{}, nil, fmt.Errorf("params: read %s: %w", path, err)
	}
	var g Genesis
	if err := json.Unmarshal(raw, &g); err != nil {
		return Genesis{}, nil, fmt.Errorf("params: parse %s: %w", path, err)
	}

	infos := make([]validator.Info, 0, len(g.Validators))
	for _, v := range g.Validators {
		pub, err := hex.DecodeString(trimHexPrefix(v.PublicKey))
		if err != nil {
			return Genesis{}, nil, fmt.Errorf("params: validator %s: bad public key: %w", v.Address, err)
		}
		addr, err := types.AddressFromHex(v.Address)
		if err != nil {
			return Genesis{}, nil, fmt.Errorf("params: validator %s: bad address: %w", v.Address, err)
		}
		infos = append(infos, validator.Info{Address: addr, PublicKey: pub, Power: v.Power})
	}

	set, err := validator.NewSet(infos)
	if err != nil {
		return Genesis{}, nil, fmt.Errorf("params: %w", err)
	}
	return g, set, nil
}

// Save writes g as genesis.json at path.
func (g Genesis) Save(path string) error {
	raw, err := json.MarshalIndent(g, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0644)
}

// GenesisFromValidators builds a Genesis describing a single-power-each
// validator set, the shape `testnet` scaffolds.
func GenesisFromValidators(chainID string, signers []*crypto.ValidatorSigner) Genesis {
	g := Genesis{ChainID: chainID}
	for _, s := range signers {
		g.Validators = append(g.Validators, GenesisValidator{
			Address:   s.Address().String(),
			PublicKey: s.PublicKeyHex(),
			Power:     1,
		})
	}
	return g
}

// LoadPrivValidatorKey reads a priv_validator_key.json file and returns its
// signer.
func LoadPrivValidatorKey(path string) (*crypto.ValidatorSigner, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("params: read %s: %w", path, err)
	}
	var doc struct {
		PrivateKey string `json:"private_key"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("params: parse %s: %w", path, err)
	}
	return crypto.ValidatorSignerFromPrivateKeyHex(doc.PrivateKey)
}

// SavePrivValidatorKey writes signer's private key to path as
// priv_validator_key.json.
func SavePrivValidatorKey(path string, signer *crypto.ValidatorSigner) error {
	doc := struct {
		Address    string `json:"address"`
		PublicKey  string `json:"public_key"`
		PrivateKey string `json:"private_key"`
	}{
		Address:    signer.Address().String(),
		PublicKey:  signer.PublicKeyHex(),
		PrivateKey: signer.PrivateKeyHex(),
	}
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0600)
}

// NodeHome returns the node home directory for node index i under home,
// following the <home>/<node_index>/ layout testnet scaffolding uses.
func NodeHome(home string, index int) string {
	return filepath.Join(home, fmt.Sprintf("%d", index))
}

func trimHexPrefix(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}
