package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"

	"github.com/bladewing/XSS-Validator/internal/config"
	"github.com/bladewing/XSS-Validator/internal/observability"
)

// Version is set at build time:
// go build -ldflags "-X github.com/bladewing/XSS-Validator/internal/cli.Version=1.0.0"
var Version = "dev"

type rootOptions struct {
	configFile string
	envFile    string
}

// NewRootCmd builds the command tree. Each call gets its own viper instance.
func NewRootCmd() *cobra.Command {
	v := config.NewViper()
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "xss-validator",
		Short:         "Checks whether XSS payloads trigger JavaScript popups in a headless browser.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if _, err := config.LoadEnvFile(opts.envFile); err != nil {
				return err
			}
			configFile := opts.configFile
			if configFile == "" {
				configFile = os.Getenv("CONFIG_FILE")
			}
			return config.ReadConfigFile(v, configFile)
		},
		// Without a subcommand the server starts.
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd, v)
		},
	}
	root.SetVersionTemplate(`{{printf "%s version %s\n" .Name .Version}}`)

	pf := root.PersistentFlags()
	pf.StringVarP(&opts.configFile, "config", "c", "", "YAML config file (default $CONFIG_FILE)")
	pf.StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	pf.String("log-level", "info", "log level (debug, info, warn, error)")
	pf.String("log-format", "console", "log format (console or json)")
	pf.String("browser-mode", config.BrowserModeLocal, "browser backend (local or docker)")
	pf.String("chrome-path", "", "Chrome/Chromium binary for the local backend")
	bindFlags(v, pf, map[string]string{
		"log_level":    "log-level",
		"log_format":   "log-format",
		"browser_mode": "browser-mode",
		"chrome_path":  "chrome-path",
	})

	root.AddCommand(newServeCmd(v), newCheckCmd(v))
	return root
}

// Execute runs the CLI with ctx and exits non-zero on failure.
func Execute(ctx context.Context) {
	if err := NewRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		observability.Sync()
		os.Exit(1)
	}
	observability.Sync()
}

// loadConfig resolves flags, env, file and defaults and sets up logging.
func loadConfig(v *viper.Viper, logOutput zapcore.WriteSyncer) (*config.Config, error) {
	cfg, err := config.NewConfigFromViper(v)
	if err != nil {
		return nil, err
	}
	observability.Initialize(cfg, logOutput)
	return cfg, nil
}

// bindFlags maps config keys onto flags so that a flag set on the command line wins over env and file.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet, keys map[string]string) {
	for key, name := range keys {
		if err := v.BindPFlag(key, fs.Lookup(name)); err != nil {
			panic(fmt.Sprintf("failed to bind flag --%s: %v", name, err))
		}
	}
}
