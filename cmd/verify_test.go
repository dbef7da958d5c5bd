package cmd

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v3"

	"github.com/pacai/pacai-verify/bundletest"
)

// runApp runs the CLI with args and returns stdout and the exit status
func runApp(t *testing.T, args ...string) (string, int) {
	t.Helper()

	var buf bytes.Buffer
	app := &cli.Command{
		Name:   "pacai-verify",
		Writer: &buf,
		Commands: []*cli.Command{
			VerifyCommand(),
			InspectCommand(),
			ReceiptCommand(),
		},
		ExitErrHandler: func(context.Context, *cli.Command, error) {},
	}

	err := app.Run(context.Background(), append([]string{"pacai-verify"}, args...))
	if err == nil {
		return buf.String(), ExitVerified
	}
	var exitErr cli.ExitCoder
	require.ErrorAs(t, err, &exitErr)
	return buf.String(), exitErr.ExitCode()
}

func zoneBundle(t *testing.T) (*bundletest.Builder, string) {
	t.Helper()
	b := bundletest.New().WithFile("zone.json", bundletest.ZoneJSON)
	return b, bundletest.WriteZip(t, b.Entries())
}

func TestVerifyCommand(t *testing.T) {
	cmd := VerifyCommand()

	require.NotNil(t, cmd)
	require.Equal(t, "verify", cmd.Name)
	require.NotEmpty(t, cmd.Usage)
	require.NotEmpty(t, cmd.ArgsUsage)

	flags := make(map[string]cli.Flag)
	for _, flag := range cmd.Flags {
		flags[flag.Names()[0]] = flag
	}
	for _, name := range []string{
		"pubkey", "pubkey-hex", "require-pinned-key", "verbose", "format",
		"receipt", "concurrency", "config", "log-level", "log-format",
	} {
		require.Contains(t, flags, name, "missing --%s", name)
	}

	format, ok := flags["format"].(*cli.StringFlag)
	require.True(t, ok)
	require.Equal(t, "text", format.Value)
}

func TestRunVerifyCommand(t *testing.T) {
	b, path := zoneBundle(t)
	entries := b.Entries()

	t.Run("verified with embedded key", func(t *testing.T) {
		out, code := runApp(t, "verify", path)
		require.Equal(t, ExitVerified, code)
		require.Contains(t, out, "State:  Verified")
		require.Contains(t, out, "self-asserted")
	})

	t.Run("verified with pinned key", func(t *testing.T) {
		out, code := runApp(t, "verify", "--pubkey-hex", b.PublicKeyHex(), path)
		require.Equal(t, ExitVerified, code)
		require.Contains(t, out, "externally-pinned")
	})

	t.Run("pinned key from file", func(t *testing.T) {
		keyPath := filepath.Join(t.TempDir(), "pacai.pub")
		require.NoError(t, os.WriteFile(keyPath, []byte(b.PublicKeyHex()), 0o644))

		out, code := runApp(t, "verify", "--pubkey", keyPath, path)
		require.Equal(t, ExitVerified, code)
		require.Contains(t, out, "Origin: public key file")
	})

	t.Run("truncated payload", func(t *testing.T) {
		truncated := bundletest.ZoneJSON[:len(bundletest.ZoneJSON)-1]
		bad := bundletest.WriteZip(t, bundletest.Replace(entries, "zone.json", truncated))

		out, code := runApp(t, "verify", bad)
		require.Equal(t, ExitFailed, code)
		require.Contains(t, out, "State:  PartiallyFailed")
		require.Contains(t, out, "FAIL zone.json: HashMismatch")
	})

	t.Run("wrong pinned key from environment", func(t *testing.T) {
		other := ed25519.NewKeyFromSeed(bytes.Repeat([]byte{7}, ed25519.SeedSize))
		t.Setenv("PACAI_PUBKEY_HEX", hex.EncodeToString(other.Public().(ed25519.PublicKey)))

		out, code := runApp(t, "verify", path)
		require.Equal(t, ExitFailed, code)
		require.Contains(t, out, "State:  Rejected")
	})

	t.Run("bundle not found", func(t *testing.T) {
		_, code := runApp(t, "verify", filepath.Join(t.TempDir(), "missing.zip"))
		require.Equal(t, ExitOperational, code)
	})

	t.Run("both key flags", func(t *testing.T) {
		_, code := runApp(t, "verify", "--pubkey", "pacai.pub", "--pubkey-hex", b.PublicKeyHex(), path)
		require.Equal(t, ExitOperational, code)
	})

	t.Run("truncated hex key file", func(t *testing.T) {
		keyPath := filepath.Join(t.TempDir(), "pacai.pub")
		require.NoError(t, os.WriteFile(keyPath, []byte(b.PublicKeyHex()[:32]), 0o644))

		_, code := runApp(t, "verify", "--pubkey", keyPath, path)
		require.Equal(t, ExitOperational, code)
	})

	t.Run("malformed key input", func(t *testing.T) {
		_, code := runApp(t, "verify", "--pubkey-hex", "not-hex", path)
		require.Equal(t, ExitOperational, code)
	})

	t.Run("pinned key required", func(t *testing.T) {
		_, code := runApp(t, "verify", "--require-pinned-key", path)
		require.Equal(t, ExitOperational, code)
	})

	t.Run("no bundle", func(t *testing.T) {
		_, code := runApp(t, "verify")
		require.Equal(t, ExitOperational, code)
	})

	t.Run("unknown format", func(t *testing.T) {
		_, code := runApp(t, "verify", "--format", "xml", path)
		require.Equal(t, ExitOperational, code)
	})

	t.Run("json report", func(t *testing.T) {
		out, code := runApp(t, "verify", "--format", "json", path)
		require.Equal(t, ExitVerified, code)

		var report map[string]any
		require.NoError(t, json.Unmarshal([]byte(out), &report))
		require.Equal(t, "Verified", report["state"])
		require.Equal(t, []any{"zone.json"}, report["verified"])
	})

	t.Run("worst exit code wins", func(t *testing.T) {
		bad := bundletest.WriteZip(t, bundletest.Replace(entries, "zone.json", []byte("{}")))
		missing := filepath.Join(t.TempDir(), "missing.zip")

		out, code := runApp(t, "verify", "--concurrency", "2", path, bad)
		require.Equal(t, ExitFailed, code)
		require.Contains(t, out, "State:  Verified")
		require.Contains(t, out, "State:  PartiallyFailed")

		_, code = runApp(t, "verify", path, bad, missing)
		require.Equal(t, ExitOperational, code)
	})
}

func TestRunVerifyCommandReceipt(t *testing.T) {
	b, path := zoneBundle(t)
	receiptPath := filepath.Join(t.TempDir(), "export.receipt")

	_, code := runApp(t, "verify", "--pubkey-hex", b.PublicKeyHex(), "--receipt", receiptPath, path)
	require.Equal(t, ExitVerified, code)

	out, code := runApp(t, "receipt", "--file", receiptPath)
	require.Equal(t, ExitVerified, code)
	require.Contains(t, out, "State: Verified")
	require.Contains(t, out, "Trust: externally-pinned")
	require.Contains(t, out, "Files: 1 verified, 0 failed")

	_, code = runApp(t, "verify", "--receipt", receiptPath, path, path)
	require.Equal(t, ExitOperational, code)
}

func TestRunVerifyCommandConfig(t *testing.T) {
	b, path := zoneBundle(t)

	configPath := filepath.Join(t.TempDir(), "pacai-verify.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(
		"pubkey_hex: "+b.PublicKeyHex()+"\nrequire_pinned_key: true\nformat: json\n"), 0o644))

	out, code := runApp(t, "verify", "--config", configPath, path)
	require.Equal(t, ExitVerified, code)

	var report map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	require.Equal(t, "externally-pinned", report["trustLevel"])

	out, code = runApp(t, "verify", "--config", configPath, "--format", "text", path)
	require.Equal(t, ExitVerified, code)
	require.Contains(t, out, "State:  Verified")
}
