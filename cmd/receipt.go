package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/pacai/pacai-verify/verify"
)

// ReceiptCommand creates the receipt command
func ReceiptCommand() *cli.Command {
	return &cli.Command{
		Name:  "receipt",
		Usage: "Decode a verification receipt written by verify --receipt",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "file",
				Usage:    "Path to the receipt file",
				Required: true,
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Output in JSON format",
			},
		},
		Action: runReceiptCommand,
	}
}

func runReceiptCommand(ctx context.Context, cmd *cli.Command) error {
	receipt, err := verify.DecodeReceiptFile(cmd.String("file"))
	if err != nil {
		return cli.Exit(err.Error(), ExitOperational)
	}
	out := cmd.Root().Writer

	failed := make([]map[string]string, 0, len(receipt.Failed))
	for _, f := range receipt.Failed {
		failed = append(failed, map[string]string{"path": f.Path, "reason": f.Reason})
	}

	if cmd.Bool("json") {
		output := map[string]any{
			"version":        receipt.Version,
			"bundle":         receipt.Bundle,
			"state":          receipt.State,
			"trustLevel":     receipt.TrustLevel,
			"errorKind":      receipt.ErrorKind,
			"manifestSha384": receipt.ManifestHashHex(),
			"publicKey":      receipt.PublicKeyHex(),
			"verifiedCount":  receipt.VerifiedCount,
			"failed":         failed,
		}

		jsonBytes, err := json.MarshalIndent(output, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal output: %w", err)
		}
		fmt.Fprintln(out, string(jsonBytes))
		return nil
	}

	fmt.Fprintf(out, "=== Verification Receipt (v%d) ===\n", receipt.Version)
	fmt.Fprintf(out, "Bundle: %s\n", receipt.Bundle)
	fmt.Fprintf(out, "State: %s\n", receipt.State)
	if receipt.ErrorKind != "" {
		fmt.Fprintf(out, "Error Kind: %s\n", receipt.ErrorKind)
	}
	if receipt.TrustLevel != "" {
		fmt.Fprintf(out, "Trust: %s\n", receipt.TrustLevel)
	}
	if h := receipt.ManifestHashHex(); h != "" {
		fmt.Fprintf(out, "Manifest SHA-384: %s\n", h)
	}
	if k := receipt.PublicKeyHex(); k != "" {
		fmt.Fprintf(out, "Public Key: %s\n", k)
	}
	fmt.Fprintf(out, "Files: %d verified, %d failed\n", receipt.VerifiedCount, len(receipt.Failed))
	for _, f := range receipt.Failed {
		fmt.Fprintf(out, "  FAIL %s: %s\n", f.Path, f.Reason)
	}

	return nil
}
