// upstage-server is a runnable reference for package server: it loads a
// YAML catalogue description, validates it into a *server.Core, and
// exposes the three well-known routes over net/http via package
// httpapi. It is a demonstration and integration point, not part of
// the library's contract — application authors are expected to wire
// server.Core into their own service the same way.
package main

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/lattigo-labs/upstage/catalogue"
	"github.com/lattigo-labs/upstage/httpapi"
	"github.com/lattigo-labs/upstage/server"
	"github.com/lattigo-labs/upstage/signing"
)

// configEnvVar names the environment variable read when --config is
// not given, mirroring the config-file-only-no-fallback discipline
// used elsewhere in the retrieval pack.
const configEnvVar = "UPSTAGE_SERVER_CONFIG"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "upstage-server: %v\n", err)
		os.Exit(1)
	}
}

// fileConfig is the on-disk shape of a server's configuration: plain
// YAML, hex-encoded key material, and a version-to-hash map mirroring
// spec §3's ServerConfig.Versions field.
type fileConfig struct {
	AppName              string            `yaml:"app_name"`
	ReleasesDir          string            `yaml:"releases_dir"`
	ListenAddr           string            `yaml:"listen_addr"`
	PrivateKeyHex        string            `yaml:"private_key"`
	StreamThresholdBytes int64             `yaml:"stream_threshold_bytes"`
	Versions             map[string]string `yaml:"versions"`
}

func run() error {
	var configPath string
	var verbose bool

	flagSet := pflag.NewFlagSet("upstage-server", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to server config YAML (defaults to $"+configEnvVar+")")
	flagSet.BoolVar(&verbose, "verbose", false, "log at debug level")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			printHelp(flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}

	if configPath == "" {
		configPath = os.Getenv(configEnvVar)
	}
	if configPath == "" {
		return fmt.Errorf("no config file given: pass --config or set $%s", configEnvVar)
	}

	cfg, err := loadFileConfig(configPath)
	if err != nil {
		return err
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	privKey, err := signing.ParsePrivateKey(cfg.PrivateKeyHex)
	if err != nil {
		return fmt.Errorf("private_key: %w", err)
	}

	versions := make(map[string]catalogue.Hash, len(cfg.Versions))
	for v, h := range cfg.Versions {
		hash, err := catalogue.ParseHash(h)
		if err != nil {
			return fmt.Errorf("versions[%s]: %w", v, err)
		}
		versions[v] = hash
	}

	core, err := server.New(server.Config{
		AppName:              cfg.AppName,
		ReleasesDir:          cfg.ReleasesDir,
		Versions:             versions,
		PrivateKey:           privKey,
		StreamThresholdBytes: cfg.StreamThresholdBytes,
		Logger:               logger,
	})
	if err != nil {
		return fmt.Errorf("building release catalogue: %w", err)
	}

	pub := derivePublicKeyForLogging(privKey)
	logger.Info("server core ready", "app", cfg.AppName, "public_key", pub.String())

	mux := http.NewServeMux()
	httpapi.NewHandler(core, logger).Routes(mux)

	addr := cfg.ListenAddr
	if addr == "" {
		addr = ":8080"
	}
	logger.Info("listening", "addr", addr)
	return http.ListenAndServe(addr, mux)
}

func loadFileConfig(path string) (fileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return fileConfig{}, fmt.Errorf("reading %s: %w", path, err)
	}
	var cfg fileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fileConfig{}, fmt.Errorf("parsing %s: %w", path, err)
	}
	if cfg.AppName == "" {
		return fileConfig{}, fmt.Errorf("%s: app_name is required", path)
	}
	if cfg.ReleasesDir == "" {
		return fileConfig{}, fmt.Errorf("%s: releases_dir is required", path)
	}
	if cfg.PrivateKeyHex == "" {
		return fileConfig{}, fmt.Errorf("%s: private_key is required", path)
	}
	return cfg, nil
}

// derivePublicKeyForLogging recovers the public half of a hex-encoded
// Ed25519 private key so operators can copy it into client
// configuration without running a separate keygen step.
func derivePublicKeyForLogging(priv signing.PrivateKey) signing.PublicKey {
	var pub signing.PublicKey
	// An Ed25519 private key's last 32 bytes are its public key, per
	// crypto/ed25519's seed||public-key encoding.
	copy(pub[:], priv[len(priv)-signing.PublicKeySize:])
	return pub
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `upstage-server — reference update server for a signed release catalogue.

Loads a YAML config describing the release directory, the versions it
advertises and their expected hashes, and the server's Ed25519 private
key, then serves /latest, /hashes/{version}, and /releases/{version}.

Usage:
  upstage-server --config server.yaml

Example config:
  app_name: myapp
  releases_dir: /var/releases
  listen_addr: :8080
  private_key: %s
  versions:
    1.2.0: %s

Flags:
`, hex.EncodeToString(make([]byte, signing.PrivateKeySize)), hex.EncodeToString(make([]byte, 32)))
	flagSet.SetOutput(os.Stderr)
	flagSet.PrintDefaults()
}
