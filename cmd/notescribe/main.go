// Command notescribe records or uploads speech and turns it into text with a
// local whisper model.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/MrWong99/notescribe/internal/config"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

// defaultConfigPath is read when present; a missing file falls back to
// built-in defaults unless --config was given explicitly.
const defaultConfigPath = "notescribe.yaml"

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := newRootCmd()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "notescribe: %v\n", err)
		return 1
	}
	return 0
}

// globals holds the persistent flags shared by every subcommand.
type globals struct {
	configPath string
	logLevel   string
	logFormat  string
	explicit   bool
}

func newRootCmd() *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:           "notescribe",
		Short:         "Record speech and transcribe it with whisper",
		Long:          "notescribe captures audio from the microphone or takes recorded files, normalizes them to 16 kHz mono and transcribes them with a local whisper.cpp model or a whisper-server instance.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			g.explicit = cmd.Flags().Changed("config")
		},
	}
	root.Version = version

	root.PersistentFlags().StringVarP(&g.configPath, "config", "c", defaultConfigPath, "path to the YAML configuration file")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&g.logFormat, "log-format", "", "override log format (text, json, pretty)")

	root.AddCommand(newTranscribeCmd(g))
	root.AddCommand(newRecordCmd(g))
	root.AddCommand(newServeCmd(g))
	return root
}

// explicitOrPresent reports whether a config file backs the running
// config, so it can be watched for changes.
func (g *globals) explicitOrPresent() bool {
	if g.explicit {
		return true
	}
	_, err := os.Stat(g.configPath)
	return err == nil
}

// loadConfig reads the config file and applies flag overrides.
func (g *globals) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(g.configPath)
	switch {
	case err == nil:
	case errors.Is(err, os.ErrNotExist) && !g.explicit:
		cfg = config.Default()
	case errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("config file %q not found", g.configPath)
	default:
		return nil, err
	}
	if g.logLevel != "" {
		cfg.Server.LogLevel = config.LogLevel(g.logLevel)
	}
	if g.logFormat != "" {
		cfg.Server.LogFormat = config.LogFormat(g.logFormat)
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
