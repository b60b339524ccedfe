// simchain inspects a forked simulated chain: it dials a remote node, places
// the fork point, and prints one block fetched through the forked storage
// engine.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"

	"github.com/simchain/go-simchain/core/blockstore"
	"github.com/simchain/go-simchain/forked"
)

type config struct {
	ForkURL           string `toml:"fork-url"`
	ForkBlock         uint64 `toml:"fork-block"`
	ForceCaching      bool   `toml:"force-caching"`
	SafeBlockDistance uint64 `toml:"safe-block-distance"`
}

var (
	configFlag = &cli.StringFlag{
		Name:  "config",
		Usage: "TOML configuration file",
	}
	forkURLFlag = &cli.StringFlag{
		Name:  "fork-url",
		Usage: "JSON-RPC endpoint of the remote node to fork from",
	}
	forkBlockFlag = &cli.Uint64Flag{
		Name:  "fork-block",
		Usage: "Block number to fork at",
	}
	blockFlag = &cli.Uint64Flag{
		Name:  "block",
		Usage: "Block number to inspect (defaults to the fork block)",
	}
	verbosityFlag = &cli.IntFlag{
		Name:  "verbosity",
		Usage: "Logging verbosity (0=crit through 5=trace)",
		Value: 3,
	}
)

func main() {
	app := &cli.App{
		Name:   "simchain",
		Usage:  "inspect a chain forked from a remote node",
		Flags:  []cli.Flag{configFlag, forkURLFlag, forkBlockFlag, blockFlag, verbosityFlag},
		Action: inspect,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(ctx *cli.Context) (config, error) {
	var cfg config
	if path := ctx.String(configFlag.Name); path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to load config %s: %w", path, err)
		}
	}
	if ctx.IsSet(forkURLFlag.Name) {
		cfg.ForkURL = ctx.String(forkURLFlag.Name)
	}
	if ctx.IsSet(forkBlockFlag.Name) {
		cfg.ForkBlock = ctx.Uint64(forkBlockFlag.Name)
	}
	if cfg.ForkURL == "" {
		return cfg, fmt.Errorf("no fork-url configured")
	}
	return cfg, nil
}

func inspect(ctx *cli.Context) error {
	handler := log.NewTerminalHandlerWithLevel(os.Stderr, log.FromLegacyLevel(ctx.Int(verbosityFlag.Name)), true)
	log.SetDefault(log.NewLogger(handler))

	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}

	client, err := forked.Dial(ctx.Context, cfg.ForkURL, cfg.SafeBlockDistance)
	if err != nil {
		return err
	}
	defer client.Close()

	store := forked.NewBlockStore(client, blockstore.NewEmptyAt(cfg.ForkBlock), forked.Config{
		ForkBlockNumber: cfg.ForkBlock,
		ForceCaching:    cfg.ForceCaching,
	})

	number := cfg.ForkBlock
	if ctx.IsSet(blockFlag.Name) {
		number = ctx.Uint64(blockFlag.Name)
	}

	log.Info("Fetching block", "number", number, "fork", cfg.ForkBlock)
	block, err := store.BlockByNumber(context.Background(), number)
	if err != nil {
		return fmt.Errorf("failed to fetch block %d: %w", number, err)
	}

	td, err := store.TotalDifficultyByHash(context.Background(), block.Hash())
	if err != nil {
		log.Warn("Failed to resolve total difficulty", "hash", block.Hash(), "err", err)
	}

	fmt.Printf("block      %d\n", block.NumberU64())
	fmt.Printf("hash       %s\n", block.Hash())
	fmt.Printf("parent     %s\n", block.ParentHash())
	fmt.Printf("time       %d\n", block.Time())
	fmt.Printf("gas        %d/%d\n", block.GasUsed(), block.GasLimit())
	fmt.Printf("txs        %d\n", len(block.Transactions()))
	if td != nil {
		fmt.Printf("difficulty %s\n", td.Dec())
	}
	return nil
}
