package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// Config is the optional YAML file named by --config. Values fill flags
// that were not set on the command line or through the environment.
type Config struct {
	PublicKey        string `yaml:"pubkey"`
	PublicKeyHex     string `yaml:"pubkey_hex"`
	RequirePinnedKey bool   `yaml:"require_pinned_key"`
	Concurrency      int    `yaml:"concurrency"`
	Format           string `yaml:"format"`
	LogLevel         string `yaml:"log_level"`
	LogFormat        string `yaml:"log_format"`
}

// LoadConfig reads a YAML config file. Unknown keys are rejected so typos
// do not silently drop a pinned key.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if cfg.Concurrency < 0 {
		return nil, fmt.Errorf("config %s: concurrency must not be negative", path)
	}
	return &cfg, nil
}

// verifyOptions are the effective settings of one verify invocation
type verifyOptions struct {
	PublicKey        string
	PublicKeyHex     string
	RequirePinnedKey bool
	Concurrency      int
	Format           string
	Verbose          bool
	Receipt          string
	LogLevel         string
	LogFormat        string
}

// resolveVerifyOptions merges flags, environment and the config file
func resolveVerifyOptions(cmd *cli.Command) (*verifyOptions, error) {
	opts := &verifyOptions{
		PublicKey:        cmd.String("pubkey"),
		PublicKeyHex:     cmd.String("pubkey-hex"),
		RequirePinnedKey: cmd.Bool("require-pinned-key"),
		Concurrency:      int(cmd.Int("concurrency")),
		Format:           cmd.String("format"),
		Verbose:          cmd.Bool("verbose"),
		Receipt:          cmd.String("receipt"),
		LogLevel:         cmd.String("log-level"),
		LogFormat:        cmd.String("log-format"),
	}

	if path := cmd.String("config"); path != "" {
		cfg, err := LoadConfig(path)
		if err != nil {
			return nil, err
		}
		// A key given on the command line replaces both config keys.
		keyOverridden := cmd.IsSet("pubkey") || cmd.IsSet("pubkey-hex")
		if !keyOverridden {
			opts.PublicKey = cfg.PublicKey
			opts.PublicKeyHex = cfg.PublicKeyHex
		}
		if !cmd.IsSet("require-pinned-key") && cfg.RequirePinnedKey {
			opts.RequirePinnedKey = true
		}
		if !cmd.IsSet("concurrency") && cfg.Concurrency > 0 {
			opts.Concurrency = cfg.Concurrency
		}
		if !cmd.IsSet("format") && cfg.Format != "" {
			opts.Format = cfg.Format
		}
		if !cmd.IsSet("log-level") && cfg.LogLevel != "" {
			opts.LogLevel = cfg.LogLevel
		}
		if !cmd.IsSet("log-format") && cfg.LogFormat != "" {
			opts.LogFormat = cfg.LogFormat
		}
	}

	if opts.Verbose && !cmd.IsSet("log-level") {
		opts.LogLevel = "debug"
	}

	if opts.Concurrency < 0 {
		return nil, errors.New("--concurrency must not be negative")
	}
	switch opts.Format {
	case "text", "json", "cbor":
	default:
		return nil, fmt.Errorf("unknown --format %q, must be text, json or cbor", opts.Format)
	}

	return opts, nil
}
