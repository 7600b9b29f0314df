// Command stever is the validator lifecycle manager's CLI: it loads the
// on-disk configuration and keys C8 resolves, wires the control/overlay
// transports, the block walker and the election controller, and drives
// either one immediate election attempt (--force) or the long-running
// participation loop, mirroring the original's CmdRun.
package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"stever/internal/config"
	"stever/internal/contracts"
	"stever/internal/contracts/vm"
	"stever/internal/election"
	"stever/internal/noderpc"
	"stever/internal/orchestration"
	"stever/internal/overlay"
	"stever/internal/statusserver"
	"stever/internal/transport"
	"stever/internal/walker"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{Use: "stever", Short: "TON validator lifecycle manager"}
	root.AddCommand(validatorCmd())
	root.AddCommand(keysCmd())
	return root
}

func validatorCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "validator", Short: "drive a validator's election participation"}
	cmd.AddCommand(validatorRunCmd())
	return cmd
}

// validatorRunCmd mirrors CmdRun's flag surface and defaults exactly
// (_examples/original_source/src/cli/validator.rs).
func validatorRunCmd() *cobra.Command {
	var (
		maxTimeDiff          int32
		stakeUnfreezeOffset  uint32
		electionsStartOffset uint32
		electionsEndOffset   uint32
		minRetryInterval     time.Duration
		maxRetryInterval     time.Duration
		retryMultiplier      float64
		disableRandomShift   bool
		ignoreDeploy         bool
		force                bool
		statusAddr           string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "run the election participation loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			params := election.Params{
				MaxTimeDiff:          maxTimeDiff,
				StakeUnfreezeOffset:  stakeUnfreezeOffset,
				ElectionsStartOffset: electionsStartOffset,
				ElectionsEndOffset:   electionsEndOffset,
				DisableRandomShift:   disableRandomShift,
				IgnoreDeploy:         ignoreDeploy,
			}
			backoff := election.RetryBackoff{Min: minRetryInterval, Max: maxRetryInterval, Multiplier: retryMultiplier}
			return runValidator(cmd.Context(), params, backoff, force, statusAddr)
		},
	}

	defaults := election.DefaultParams()
	retryDefaults := election.DefaultRetryBackoff()
	cmd.Flags().Int32Var(&maxTimeDiff, "max-time-diff", defaults.MaxTimeDiff, "maximum allowed node/masterchain time difference, seconds")
	cmd.Flags().Uint32Var(&stakeUnfreezeOffset, "stake-unfreeze-offset", defaults.StakeUnfreezeOffset, "safety margin added to a stake's unfreeze time, seconds")
	cmd.Flags().Uint32Var(&electionsStartOffset, "elections-start-offset", defaults.ElectionsStartOffset, "delay after elections open before participating, seconds")
	cmd.Flags().Uint32Var(&electionsEndOffset, "elections-end-offset", defaults.ElectionsEndOffset, "safety cutoff before elections close, seconds")
	cmd.Flags().DurationVar(&minRetryInterval, "min-retry-interval", retryDefaults.Min, "minimum delay between failed run iterations")
	cmd.Flags().DurationVar(&maxRetryInterval, "max-retry-interval", retryDefaults.Max, "maximum delay between failed run iterations")
	cmd.Flags().Float64Var(&retryMultiplier, "retry-interval-multiplier", retryDefaults.Multiplier, "geometric growth factor applied to the retry delay")
	cmd.Flags().BoolVar(&disableRandomShift, "disable-random-shift", false, "disable the randomized delay inside the elections window")
	cmd.Flags().BoolVar(&ignoreDeploy, "ignore-deploy", false, "skip the pool/strategy deploy-and-fund step")
	cmd.Flags().BoolVar(&force, "force", false, "perform one immediate election attempt and exit instead of looping")
	cmd.Flags().StringVar(&statusAddr, "status-addr", "127.0.0.1:3032", "address the read-only status endpoint listens on")

	return cmd
}

func keysCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "keys", Short: "manage validator key material"}
	cmd.AddCommand(keysSeedCmd())
	return cmd
}

func keysSeedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "generate a fresh 24-word BIP-39 mnemonic",
		RunE: func(cmd *cobra.Command, args []string) error {
			phrase, err := config.NewSeedPhrase()
			if err != nil {
				return fmt.Errorf("keys seed: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), phrase)
			return nil
		},
	}
}

// runValidator wires together every component the election controller
// needs and drives it according to force: a single RunOnce attempt, or
// Run wrapped in the outer geometric-backoff retry loop §7 describes.
func runValidator(ctx context.Context, params election.Params, backoff election.RetryBackoff, force bool, statusAddr string) error {
	log := logrus.NewEntry(logrus.StandardLogger())

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	fs := afero.NewOsFs()

	dirs, err := config.NewProjectDirs()
	if err != nil {
		return fmt.Errorf("resolve project directories: %w", err)
	}

	appCfg, err := config.LoadAppConfig(fs, dirs.AppConfig)
	if err != nil {
		return fmt.Errorf("load app config: %w", err)
	}

	validatorKeys, err := config.LoadKeyFile(fs, dirs.ValidatorKeys)
	if err != nil {
		return fmt.Errorf("load validator keys: %w", err)
	}

	walletCode, err := readContractCode(fs, dirs.WalletCode)
	if err != nil {
		return fmt.Errorf("load wallet code: %w", err)
	}
	depoolCode := contracts.DePoolCode{}
	if depoolCode.Code, err = readContractCode(fs, dirs.DePoolCode); err != nil {
		return fmt.Errorf("load depool code: %w", err)
	}
	if depoolCode.ProxyCode, err = readContractCode(fs, dirs.DePoolProxyCode); err != nil {
		return fmt.Errorf("load depool proxy code: %w", err)
	}

	tr, err := transport.Connect(ctx, appCfg.Control)
	if err != nil {
		return fmt.Errorf("connect control transport: %w", err)
	}
	defer tr.Close()

	rpc := noderpc.New(tr, appCfg.Control.QueryTimeout)

	if appCfg.Overlay == nil {
		return fmt.Errorf("app config has no adnl section: the block walker needs an overlay endpoint")
	}
	ov, err := overlay.Connect(ctx, *appCfg.Overlay)
	if err != nil {
		return fmt.Errorf("connect overlay client: %w", err)
	}
	defer ov.Close()

	registry := walker.NewRegistry()
	w := walker.New(walker.Config{Stats: rpc, Blocks: ov, Registry: registry})
	go w.Run(ctx)

	orch := orchestration.New(rpc, registry)
	runner := vm.New()
	source := config.NewFileSource(fs, dirs.AppConfig)

	ctrl := election.New(election.Config{
		Source:        source,
		RPC:           rpc,
		Blocks:        ov,
		Runner:        runner,
		Orch:          orch,
		ValidatorKeys: validatorKeys,
		WalletCode:    walletCode,
		DePoolCode:    depoolCode,
		Params:        params,
		Backoff:       backoff,
		Rand:          rand.New(rand.NewSource(time.Now().UnixNano())),
		Log:           log,
	})

	status := statusserver.New(statusserver.Config{
		Addr:      statusAddr,
		Stats:     rpc,
		Validator: func() statusserver.ValidatorDescriptor { return validatorDescriptor(appCfg) },
		Log:       log,
	})
	go func() {
		if err := status.ListenAndServe(ctx); err != nil && ctx.Err() == nil {
			log.WithError(err).Warn("status server stopped")
		}
	}()

	if force {
		if err := ctrl.RunOnce(ctx); err != nil {
			return fmt.Errorf("election attempt failed: %w", err)
		}
		return nil
	}

	return runWithBackoff(ctx, ctrl, backoff, log)
}

// runWithBackoff restarts Run after every failure, starting at
// backoff.Min and growing the delay geometrically per backoff, mirroring
// CmdRun's outer retry loop around try_validate (spec.md §7). The delay
// is never reset back to backoff.Min, however long a run lasted.
func runWithBackoff(ctx context.Context, ctrl *election.Controller, backoff election.RetryBackoff, log *logrus.Entry) error {
	interval := backoff.Min
	for {
		err := ctrl.Run(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err == nil {
			return nil
		}
		log.WithError(err).WithField("retry_in", interval).Warn("validator run failed, retrying")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
		interval = backoff.Next(interval)
	}
}

func validatorDescriptor(cfg *config.AppConfig) statusserver.ValidatorDescriptor {
	switch {
	case cfg.Validator == nil:
		return statusserver.ValidatorDescriptor{Mode: "unconfigured"}
	case cfg.Validator.Single != nil:
		return statusserver.ValidatorDescriptor{Mode: "single", WalletAddress: cfg.Validator.Single.WalletAddress.String()}
	case cfg.Validator.Pool != nil:
		return statusserver.ValidatorDescriptor{
			Mode:          "pool",
			WalletAddress: cfg.Validator.Pool.OwnerAddress.String(),
			PoolAddress:   cfg.Validator.Pool.PoolAddress.String(),
		}
	default:
		return statusserver.ValidatorDescriptor{Mode: "unconfigured"}
	}
}

// readContractCode reads a compiled contract's bytecode from path. No
// compiled bytecode ships with this repository; an operator supplies it
// under ProjectDirs' contracts/ subdirectory.
func readContractCode(fs afero.Fs, path string) ([]byte, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}
