// upstage-client is a runnable reference for package client: it loads
// a YAML config describing an update server and the running version,
// starts an Updater, and prints status transitions to stderr until
// interrupted. It demonstrates the wiring an embedding application
// would do around Updater.Subscribe; it registers no critical actions.
// It is not part of the library's contract.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/lattigo-labs/upstage/client"
	"github.com/lattigo-labs/upstage/signing"
	"github.com/lattigo-labs/upstage/status"
	"github.com/lattigo-labs/upstage/version"
)

// configEnvVar names the environment variable read when --config is
// not given.
const configEnvVar = "UPSTAGE_CLIENT_CONFIG"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "upstage-client: %v\n", err)
		os.Exit(1)
	}
}

// fileConfig is the on-disk shape of a client's configuration,
// mirroring spec §3's ClientConfig.
type fileConfig struct {
	AppName              string `yaml:"app_name"`
	CurrentVersion       string `yaml:"current_version"`
	APIBaseURL           string `yaml:"api_base_url"`
	APIPublicKeyHex      string `yaml:"api_public_key"`
	CheckOnStartup       bool   `yaml:"check_on_startup"`
	CheckIntervalSeconds int    `yaml:"check_interval_seconds"`
}

func run() error {
	var configPath string
	var verbose bool

	flagSet := pflag.NewFlagSet("upstage-client", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to client config YAML (defaults to $"+configEnvVar+")")
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

	fileCfg, err := loadFileConfig(configPath)
	if err != nil {
		return err
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	currentVersion, err := version.Parse(fileCfg.CurrentVersion)
	if err != nil {
		return fmt.Errorf("current_version: %w", err)
	}
	pubKey, err := signing.ParsePublicKey(fileCfg.APIPublicKeyHex)
	if err != nil {
		return fmt.Errorf("api_public_key: %w", err)
	}

	updater, err := client.New(client.Config{
		AppName:        fileCfg.AppName,
		CurrentVersion: currentVersion,
		APIBaseURL:     fileCfg.APIBaseURL,
		APIPublicKey:   pubKey,
		CheckOnStartup: fileCfg.CheckOnStartup,
		CheckInterval:  time.Duration(fileCfg.CheckIntervalSeconds) * time.Second,
		Logger:         logger,
	})
	if err != nil {
		return fmt.Errorf("starting updater: %w", err)
	}
	defer updater.Close()

	sub := updater.Subscribe()
	defer sub.Unsubscribe()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	logger.Info("updater running", "app", fileCfg.AppName, "current_version", currentVersion.String())
	for {
		select {
		case <-sigCh:
			logger.Info("shutting down")
			return nil
		case s, ok := <-sub.C():
			if !ok {
				return nil
			}
			logStatus(logger, s)
		}
	}
}

func logStatus(logger *slog.Logger, s status.Status) {
	switch s.Kind {
	case status.Error:
		logger.Error("update attempt failed", "reason", s.ErrKind.String(), "error", s.Err)
	case status.UpdateAvailable:
		logger.Info("update available", "version", s.Version.String())
	case status.Downloading:
		logger.Info("downloading", "have", s.Have, "total", s.Total)
	default:
		logger.Info("status", "kind", s.Kind.String())
	}
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
	if cfg.CurrentVersion == "" {
		return fileConfig{}, fmt.Errorf("%s: current_version is required", path)
	}
	if cfg.APIBaseURL == "" {
		return fileConfig{}, fmt.Errorf("%s: api_base_url is required", path)
	}
	if cfg.APIPublicKeyHex == "" {
		return fileConfig{}, fmt.Errorf("%s: api_public_key is required", path)
	}
	return cfg, nil
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `upstage-client — reference updater loop for a signed release server.

Loads a YAML config describing the running version, the update
server's base URL and public key, and the check schedule, then runs
the update state machine until interrupted, logging every status
transition.

Usage:
  upstage-client --config client.yaml

Example config:
  app_name: myapp
  current_version: 1.1.0
  api_base_url: https://updates.example.com/
  api_public_key: <hex-encoded ed25519 public key>
  check_on_startup: true
  check_interval_seconds: 3600

Flags:
`)
	flagSet.SetOutput(os.Stderr)
	flagSet.PrintDefaults()
}
