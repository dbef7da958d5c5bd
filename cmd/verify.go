package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/pacai/pacai-verify/keys"
	"github.com/pacai/pacai-verify/logging"
	"github.com/pacai/pacai-verify/verify"
)

// Exit statuses of the verify command
const (
	ExitVerified    = 0
	ExitFailed      = 1
	ExitOperational = 2
)

// VerifyCommand creates the verify command
func VerifyCommand() *cli.Command {
	return &cli.Command{
		Name:      "verify",
		Usage:     "Verify the signature and checksums of one or more export bundles",
		ArgsUsage: "<bundle>...",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "pubkey",
				Usage:   "Path to the trusted Ed25519 public key (PEM, OpenSSH, hex or raw)",
				Sources: cli.EnvVars("PACAI_PUBKEY"),
			},
			&cli.StringFlag{
				Name:    "pubkey-hex",
				Usage:   "Trusted Ed25519 public key as hex; use instead of --pubkey",
				Sources: cli.EnvVars("PACAI_PUBKEY_HEX"),
			},
			&cli.BoolFlag{
				Name:  "require-pinned-key",
				Usage: "Fail instead of trusting the key embedded in the manifest",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "List every failed and verified file",
			},
			&cli.StringFlag{
				Name:  "format",
				Usage: "Report format: text, json or cbor",
				Value: verify.OutputText,
			},
			&cli.StringFlag{
				Name:  "receipt",
				Usage: "Write a binary verification receipt to the specified path (single bundle only)",
			},
			&cli.IntFlag{
				Name:  "concurrency",
				Usage: "Maximum bundles verified in parallel (0 = number of CPUs)",
			},
			&cli.StringFlag{
				Name:  "config",
				Usage: "YAML file with default settings",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level: debug, info, warn or error",
				Value: "warn",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "Log format: console or json",
				Value: "console",
			},
		},
		Action: runVerifyCommand,
	}
}

func runVerifyCommand(ctx context.Context, cmd *cli.Command) error {
	opts, err := resolveVerifyOptions(cmd)
	if err != nil {
		return cli.Exit(err.Error(), ExitOperational)
	}

	bundles := cmd.Args().Slice()
	if len(bundles) == 0 {
		return cli.Exit("at least one bundle path is required", ExitOperational)
	}
	if opts.Receipt != "" && len(bundles) > 1 {
		return cli.Exit("--receipt can only be used with a single bundle", ExitOperational)
	}

	logger, err := logging.NewLogger(opts.LogLevel, opts.LogFormat)
	if err != nil {
		return cli.Exit(err.Error(), ExitOperational)
	}
	defer func() { _ = logger.Sync() }()

	// Load the caller's key once for every bundle
	src, err := keys.FromFlags(opts.PublicKey, opts.PublicKeyHex)
	if err != nil {
		var cfgErr *keys.ConfigError
		if errors.As(err, &cfgErr) {
			return cli.Exit(fmt.Sprintf("invalid key configuration: %v", err), ExitOperational)
		}
		return cli.Exit(err.Error(), ExitOperational)
	}

	reqs := make([]*verify.VerifyRequest, len(bundles))
	for i, bundle := range bundles {
		reqs[i] = &verify.VerifyRequest{
			BundlePath:       bundle,
			KeySource:        &src,
			RequirePinnedKey: opts.RequirePinnedKey,
		}
	}

	service := verify.NewService(nil, logger)
	reports := service.VerifyMany(ctx, reqs, opts.Concurrency)

	out := cmd.Root().Writer
	formatter := verify.NewFormatter()
	worst := ExitVerified
	for i, report := range reports {
		if i > 0 && opts.Format == verify.OutputText {
			fmt.Fprintln(out)
		}
		if err := formatter.Render(out, report, opts.Format, opts.Verbose); err != nil {
			return cli.Exit(fmt.Sprintf("failed to write report: %v", err), ExitOperational)
		}
		worst = max(worst, verify.ExitCode(report))
	}

	if opts.Receipt != "" {
		if err := verify.WriteReceipt(opts.Receipt, reports[0]); err != nil {
			return cli.Exit(err.Error(), ExitOperational)
		}
		logger.Info("receipt written", zap.String("path", opts.Receipt))
	}

	if worst != ExitVerified {
		return cli.Exit("", worst)
	}
	return nil
}
