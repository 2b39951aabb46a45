package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"fg-go/internal/app"
	"fg-go/internal/config"
	"fg-go/internal/fg"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := app.LoadEnv(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var verbose bool

// loadConfig reads the config file named by the defaults.
func loadConfig() (*config.Config, string, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, "", fmt.Errorf("getting defaults: %w", err)
	}
	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, "", fmt.Errorf("reading config: %w", err)
	}
	return cfg, defaults["config_path"], nil
}

// newApp reads the config and creates an FGApp. The caller must defer a.Close().
// command names the log session (e.g. "freeze", "serve").
func newApp(ctx context.Context, command string, watch bool) (*app.FGApp, error) {
	cfg, _, err := loadConfig()
	if err != nil {
		return nil, err
	}

	a, err := app.New(ctx, cfg, app.Options{
		Command: command,
		Watch:   watch,
		Verbose: verbose,
		Version: version,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

// describe adds the error kind to engine errors so scripts can match on it.
func describe(err error) error {
	if err == nil {
		return nil
	}
	var kind string
	switch {
	case errors.Is(err, app.ErrAmbiguousTarget):
		kind = "ambiguous_target"
	default:
		kind = fg.KindOf(err)
	}
	if kind == "internal" {
		return err
	}
	return fmt.Errorf("%s: %w", kind, err)
}

var rootCmd = &cobra.Command{
	Use:          "fg",
	Short:        "Freeze directories and roll them back to a known state",
	SilenceUsage: true,
	Version:      version,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log debug output")

	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(keysCmd)
	rootCmd.AddCommand(targetCmd)
	rootCmd.AddCommand(snapshotsCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(drivesCmd)
	rootCmd.AddCommand(serveCmd)
}
