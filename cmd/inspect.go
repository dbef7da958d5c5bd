package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/pacai/pacai-verify/archive"
	"github.com/pacai/pacai-verify/manifest"
	"github.com/pacai/pacai-verify/verify"
)

// inspectOutput is the --json shape of the inspect command
type inspectOutput struct {
	Authenticated bool           `json:"authenticated"`
	Bundle        string         `json:"bundle"`
	ManifestHash  string         `json:"manifestSha384"`
	Manifest      map[string]any `json:"manifest,omitempty"`
	ParseError    string         `json:"parseError,omitempty"`
	Signature     string         `json:"signature,omitempty"`
	Entries       []string       `json:"entries,omitempty"`
}

// InspectCommand creates the inspect command
func InspectCommand() *cli.Command {
	return &cli.Command{
		Name:      "inspect",
		Usage:     "Show a bundle's manifest without verifying it (output is UNAUTHENTICATED)",
		ArgsUsage: "<bundle>",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "list",
				Usage: "Also list every entry in the bundle",
			},
			&cli.BoolFlag{
				Name:  "raw",
				Usage: "Print the raw manifest.json bytes",
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Output in JSON format",
			},
		},
		Action: runInspectCommand,
	}
}

func runInspectCommand(ctx context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() != 1 {
		return cli.Exit("exactly one bundle path is required", ExitOperational)
	}
	bundle := cmd.Args().First()
	out := cmd.Root().Writer

	arc, err := archive.Open(bundle)
	if err != nil {
		return cli.Exit(fmt.Sprintf("failed to open bundle: %v", err), ExitOperational)
	}
	defer arc.Close()

	raw, err := arc.ReadFile(manifest.FileName, archive.DefaultReadLimit)
	if err != nil {
		return cli.Exit(fmt.Sprintf("failed to read %s: %v", manifest.FileName, err), ExitOperational)
	}
	sigText, sigErr := arc.ReadFile(manifest.SignatureFileName, archive.DefaultReadLimit)

	// Parse without requiring an embedded key; nothing here is trusted
	m, parseErr := manifest.Parse(raw, manifest.ParseOptions{})
	manifestHash := manifest.ComputeHash(raw)

	if cmd.Bool("json") {
		output := inspectOutput{
			Bundle:       bundle,
			ManifestHash: manifestHash,
		}
		if parseErr != nil {
			output.ParseError = parseErr.Error()
		} else {
			output.Manifest = manifestJSON(m)
		}
		if sigErr == nil {
			output.Signature = strings.TrimSpace(string(sigText))
		}
		if cmd.Bool("list") {
			output.Entries = arc.List()
		}

		jsonBytes, err := json.MarshalIndent(output, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal output: %w", err)
		}
		fmt.Fprintln(out, string(jsonBytes))
		return nil
	}

	fmt.Fprintf(out, "=== Bundle Manifest (UNAUTHENTICATED) ===\n")
	fmt.Fprintf(out, "Bundle: %s\n", bundle)
	fmt.Fprintf(out, "Manifest SHA-384: %s\n", manifestHash)
	if sigErr != nil {
		fmt.Fprintf(out, "Signature: %v\n", sigErr)
	} else {
		fmt.Fprintf(out, "Signature: present (not checked; run verify)\n")
	}
	fmt.Fprintln(out)

	if parseErr != nil {
		fmt.Fprintf(out, "Manifest could not be parsed: %v\n", parseErr)
	} else {
		fmt.Fprint(out, verify.NewFormatter().FormatManifest(m, false))
	}

	if cmd.Bool("raw") {
		fmt.Fprintf(out, "\nRaw %s:\n%s\n", manifest.FileName, raw)
	}

	if cmd.Bool("list") {
		entries := arc.List()
		fmt.Fprintf(out, "\nEntries (%d):\n", len(entries))
		for _, name := range entries {
			fmt.Fprintf(out, "  %s\n", name)
		}
	}

	return nil
}

func manifestJSON(m *manifest.Manifest) map[string]any {
	checksums := make(map[string]string, len(m.Checksums))
	for _, entry := range m.Checksums {
		checksums[entry.Path] = entry.Digest
	}

	output := map[string]any{
		"pacai":     m.Version,
		"exports":   m.Exports,
		"checksums": checksums,
	}
	if m.Generated != "" {
		output["generated"] = m.Generated
	}
	if m.Seed.IsInteger() {
		output["seed"] = m.Seed.Value
	} else if m.Seed.Set {
		output["seed"] = m.Seed.Raw
	}
	if m.HasEmbeddedKey() {
		output["public_key"] = m.PublicKeyHex
	}
	if m.ProjectID != "" {
		output["project_id"] = m.ProjectID
	}
	if len(m.Engines) > 0 {
		output["engines"] = m.Engines
	}
	return output
}
