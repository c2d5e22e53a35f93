// Package main is the entry point for recstore.
//
// recstore manages a file of contact records stored as a single JSON
// document. Settings are read from recstore.json (JSON with comments) and
// can be overridden by flags.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/maruel/recstore/internal/config"
	"github.com/maruel/recstore/internal/recstore"
)

func main() {
	if err := mainImpl(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "recstore: %v\n", err)
		os.Exit(1)
	}
}

func mainImpl() error {
	ll := &slog.LevelVar{}
	ll.Set(slog.LevelInfo)
	// Skip timestamps when running under systemd (it adds its own).
	underSystemd := os.Getenv("JOURNAL_STREAM") != ""
	logger := slog.New(tint.NewHandler(colorable.NewColorable(os.Stderr), &tint.Options{
		Level:      ll,
		TimeFormat: "15:04:05.000",
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if underSystemd && a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.Attr{}
			}
			return a
		},
	}))
	slog.SetDefault(logger)

	a := &app{level: ll}
	return a.rootCmd().Execute()
}

// app holds the flags and settings shared by every command.
type app struct {
	level *slog.LevelVar

	configPath string
	filePath   string
	logLevel   string

	cfg config.Config
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "recstore",
		Short:         "Manage contact records stored in a JSON file",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.configure(cmd)
		},
	}
	f := root.PersistentFlags()
	f.StringVar(&a.configPath, "config", config.FileName, "Configuration file (JSON with comments)")
	f.StringVar(&a.filePath, "file", "", "Record file, overrides the configuration")
	f.StringVar(&a.logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	root.AddCommand(
		a.initCmd(),
		a.addCmd(),
		a.lsCmd(),
		a.getCmd(),
		a.countCmd(),
		a.updateCmd(),
		a.rmCmd(),
		a.clearCmd(),
		a.schemaCmd(),
		a.watchCmd(),
		a.dropCmd(),
		versionCmd(),
	)
	return root
}

// configure loads the configuration file and applies flag overrides.
func (a *app) configure(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath, cmd.Flags().Changed("config"))
	if err != nil {
		return err
	}
	if a.filePath != "" {
		cfg.Path = a.filePath
	}
	if a.logLevel != "" {
		cfg.LogLevel = a.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	level, err := config.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	a.level.Set(level)
	a.cfg = cfg
	slog.Debug("Configured", "file", cfg.Path, "version", cfg.Version)
	return nil
}

func (a *app) open() (*recstore.Store[Contact], error) {
	return recstore.New[Contact](a.cfg.Path, a.cfg.Metadata(), &recstore.Options{
		UniqueFields: a.cfg.UniqueFields,
		StableIDs:    a.cfg.StableIDs,
	})
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and exit",
		Args:  cobra.NoArgs,
		// The configuration is not needed.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, _ []string) {
			version, goVersion, revision, dirty := getBuildInfo()
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "recstore %s\n", version)
			fmt.Fprintf(w, "  Go version: %s\n", goVersion)
			fmt.Fprintf(w, "  Revision:   %s\n", revision)
			if dirty {
				fmt.Fprintf(w, "  Modified:   true\n")
			}
		},
	}
}

func getBuildInfo() (version, goVersion, revision string, dirty bool) {
	version = "unknown"
	goVersion = "unknown"
	revision = "unknown"
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	version = info.Main.Version
	if version == "" || version == "(devel)" {
		version = "dev"
	}
	goVersion = info.GoVersion
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			revision = setting.Value
		case "vcs.modified":
			dirty = setting.Value == "true"
		}
	}
	return
}
