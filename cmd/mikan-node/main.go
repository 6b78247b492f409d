// Command mikan-node runs a single DA-chain validator node: the app state
// machine, a reference consensus driver, and the JSON-RPC service, wired
// together over a node home directory. Subcommands cover the node's full
// lifecycle: start, init (scaffold a home), testnet (scaffold several with
// a shared genesis), and dump-wal (inspect persisted state).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mikan-network/mikan-node/params"
	"github.com/mikan-network/mikan-node/pkg/api"
	"github.com/mikan-network/mikan-node/pkg/app"
	"github.com/mikan-network/mikan-node/pkg/blob"
	"github.com/mikan-network/mikan-node/pkg/block"
	"github.com/mikan-network/mikan-node/pkg/crypto"
	"github.com/mikan-network/mikan-node/pkg/engine/refengine"
	"github.com/mikan-network/mikan-node/pkg/store"
	"github.com/mikan-network/mikan-node/pkg/streaming"
	"github.com/mikan-network/mikan-node/pkg/txpool"
	"github.com/mikan-network/mikan-node/pkg/types"
	"github.com/mikan-network/mikan-node/pkg/util"
	"github.com/mikan-network/mikan-node/pkg/wal"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "mikan-node",
		Short: "DA-chain validator node",
	}
	root.AddCommand(startCmd(), initCmd(), testnetCmd(), dumpWalCmd())
	return root
}

func startCmd() *cobra.Command {
	var home, configPath, genesisPath, keyPath string
	var startHeight uint64

	cmd := &cobra.Command{
		Use:   "start",
		Short: "run the node",
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				configPath = filepath.Join(home, "config.toml")
			}
			if genesisPath == "" {
				genesisPath = filepath.Join(home, "genesis.json")
			}
			if keyPath == "" {
				keyPath = filepath.Join(home, "priv_validator_key.json")
			}
			return runStart(home, configPath, genesisPath, keyPath, startHeight, cmd.Flags().Changed("start-height"))
		},
	}
	cmd.Flags().StringVar(&home, "home", "", "node home directory (required)")
	cmd.Flags().StringVar(&configPath, "config", "", "path to config.toml (default <home>/config.toml)")
	cmd.Flags().StringVar(&genesisPath, "genesis", "", "path to genesis.json (default <home>/genesis.json)")
	cmd.Flags().StringVar(&keyPath, "private-key-file", "", "path to priv_validator_key.json (default <home>/priv_validator_key.json)")
	cmd.Flags().Uint64Var(&startHeight, "start-height", 0, "override the height to resume from")
	cmd.MarkFlagRequired("home")
	return cmd
}

func runStart(home, configPath, genesisPath, keyPath string, startHeightFlag uint64, startHeightSet bool) error {
	cfg, err := params.LoadConfig(configPath)
	if err != nil {
		return err
	}

	logFile := cfg.Logging.File
	if logFile != "" && !filepath.IsAbs(logFile) {
		logFile = filepath.Join(home, logFile)
	}
	zlog, err := newLogger(logFile, cfg.Logging.Verbose, cfg.Moniker)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer zlog.Sync()
	sugar := zlog.Sugar()
	sugar.Infow("node_starting", "home", home, "moniker", cfg.Moniker)

	_, vset, err := params.LoadGenesis(genesisPath)
	if err != nil {
		return err
	}
	signer, err := params.LoadPrivValidatorKey(keyPath)
	if err != nil {
		return err
	}

	metrics := store.NewMetrics(prometheus.NewRegistry())
	st, err := store.Open(filepath.Join(home, "store"), metrics)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	defer st.Close()
	async := store.NewAsyncStore(st)

	committer := blob.HashCommitter{}
	startHeight, err := ensureGenesisAndResolveStartHeight(async, committer, startHeightFlag, startHeightSet)
	if err != nil {
		return err
	}

	pool := txpool.New()
	loop := app.NewLoop(async, pool, committer, vset, signer, nopPublisher{}, sugar, startHeight)

	apiServer := api.NewServer(pool, async, committer, sugar)
	loop.SetNewHeadsNotifier(apiServer)

	eng := refengine.New(sugar)
	if w, err := wal.NewFile(filepath.Join(home, "wal.log")); err == nil {
		eng.SetWAL(w)
	} else {
		sugar.Warnw("wal_open_failed", "err", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := apiServer.Start(cfg.RPC.Addr); err != nil {
			sugar.Errorw("api_server_failed", "err", err)
		}
	}()

	loopErrCh := make(chan error, 1)
	go func() { loopErrCh <- loop.Run(eng.Inbound()) }()

	engErrCh := make(chan error, 1)
	go func() { engErrCh <- eng.Run(ctx) }()

	<-ctx.Done()
	sugar.Info("shutdown_signal_received")
	<-engErrCh
	<-loopErrCh
	return nil
}

// ensureGenesisAndResolveStartHeight seeds the store with the deterministic
// genesis block on first run, then returns the height the app loop should
// resume from: an explicit --start-height override, or one past the
// highest decided height on disk.
func ensureGenesisAndResolveStartHeight(st *store.AsyncStore, committer blob.Committer, flagHeight uint64, flagSet bool) (types.Height, error) {
	if _, _, err := st.GetDecidedValue(types.GenesisHeight); err != nil {
		genesis := block.Genesis(committer)
		encoded, err := genesis.MarshalBinary()
		if err != nil {
			return 0, fmt.Errorf("encode genesis: %w", err)
		}
		if err := st.StoreDecidedBlockData(types.GenesisHeight, encoded); err != nil {
			return 0, fmt.Errorf("store genesis block: %w", err)
		}
		if err := st.StoreDecidedValue(
			types.CommitCertificate{Height: types.GenesisHeight, ValueId: types.ValueIdOf(encoded)},
			types.ValueIdOf(encoded),
		); err != nil {
			return 0, fmt.Errorf("store genesis value: %w", err)
		}
	}

	if flagSet {
		return types.Height(flagHeight), nil
	}
	if max, ok := st.MaxDecidedValueHeight(); ok {
		return max.Add(1), nil
	}
	return types.GenesisHeight.Add(1), nil
}

func initCmd() *cobra.Command {
	var home string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "scaffold a single-validator node home",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(home)
		},
	}
	cmd.Flags().StringVar(&home, "home", "", "node home directory (required)")
	cmd.MarkFlagRequired("home")
	return cmd
}

func runInit(home string) error {
	if err := os.MkdirAll(home, 0755); err != nil {
		return err
	}

	cfg := params.DefaultConfig()
	if err := cfg.Save(filepath.Join(home, "config.toml")); err != nil {
		return err
	}

	signer, err := crypto.GenerateValidatorKey()
	if err != nil {
		return err
	}
	if err := params.SavePrivValidatorKey(filepath.Join(home, "priv_validator_key.json"), signer); err != nil {
		return err
	}

	g := params.GenesisFromValidators("mikan-devnet", []*crypto.ValidatorSigner{signer})
	if err := g.Save(filepath.Join(home, "genesis.json")); err != nil {
		return err
	}

	fmt.Printf("initialized node home %s with validator %s\n", home, signer.Address())
	return nil
}

func testnetCmd() *cobra.Command {
	var home string
	var n int
	cmd := &cobra.Command{
		Use:   "testnet",
		Short: "scaffold N node homes with a shared genesis",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTestnet(home, n)
		},
	}
	cmd.Flags().StringVar(&home, "home", "", "root directory to scaffold node homes under (required)")
	cmd.Flags().IntVar(&n, "validators", 4, "number of validators")
	cmd.MarkFlagRequired("home")
	return cmd
}

func runTestnet(home string, n int) error {
	if n <= 0 {
		return fmt.Errorf("--validators must be positive, got %d", n)
	}

	signers := make([]*crypto.ValidatorSigner, n)
	for i := range signers {
		s, err := crypto.GenerateValidatorKey()
		if err != nil {
			return err
		}
		signers[i] = s
	}
	genesis := params.GenesisFromValidators("mikan-testnet", signers)

	for i, signer := range signers {
		nodeHome := params.NodeHome(home, i)
		if err := os.MkdirAll(nodeHome, 0755); err != nil {
			return err
		}

		cfg := params.DefaultConfig()
		cfg.Moniker = fmt.Sprintf("mikan-testnet-%d", i)
		if err := cfg.Save(filepath.Join(nodeHome, "config.toml")); err != nil {
			return err
		}
		if err := params.SavePrivValidatorKey(filepath.Join(nodeHome, "priv_validator_key.json"), signer); err != nil {
			return err
		}
		if err := genesis.Save(filepath.Join(nodeHome, "genesis.json")); err != nil {
			return err
		}
	}

	fmt.Printf("scaffolded %d node homes under %s\n", n, home)
	return nil
}

func dumpWalCmd() *cobra.Command {
	var home string
	cmd := &cobra.Command{
		Use:   "dump-wal",
		Short: "print the store's decided-value range and the reference engine's WAL",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDumpWal(home)
		},
	}
	cmd.Flags().StringVar(&home, "home", "", "node home directory (required)")
	cmd.MarkFlagRequired("home")
	return cmd
}

func runDumpWal(home string) error {
	metrics := store.NewMetrics(prometheus.NewRegistry())
	st, err := store.Open(filepath.Join(home, "store"), metrics)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	defer st.Close()

	minHeight, minOk := st.MinDecidedValueHeight()
	maxHeight, _ := st.MaxDecidedValueHeight()
	if minOk {
		fmt.Printf("decided range: [%d, %d]\n", minHeight, maxHeight)
	} else {
		fmt.Println("decided range: empty")
	}

	lines, err := wal.ReadLines(filepath.Join(home, "wal.log"))
	if err != nil {
		return err
	}
	fmt.Printf("wal: %d lines\n", len(lines))
	for _, line := range lines {
		fmt.Println(line)
	}
	return nil
}

// nopPublisher is the start command's default proposal-part transport
// for single-node operation; a real deployment swaps it for a transport
// that fans StreamMessages out to peers.
type nopPublisher struct{}

var _ app.Publisher = nopPublisher{}

func (nopPublisher) PublishProposalPart(streaming.StreamMessage) error { return nil }

// newLogger builds the node's logger on top of pkg/util's constructors:
// verbose always gets zap's development config (console-only, debug level),
// otherwise util.NewLoggerWithFile/NewLogger pick console-or-console+file at
// info level depending on whether a log file path was configured. moniker
// is attached to every line so a multi-validator local testnet's logs can
// be told apart.
func newLogger(path string, verbose bool, moniker string) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment(zap.Fields(zap.String("moniker", moniker)))
	}
	if path == "" {
		return util.NewLogger(moniker)
	}
	return util.NewLoggerWithFile(path, moniker)
}
