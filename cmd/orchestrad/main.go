// Command orchestrad is the engine process: it loads workflow
// definitions, serves the MessageBus over a Unix socket, runs any
// cron-triggered starts, and exposes the engine's own operations
// (start/status/pause/resume/override/dispatch) as subcommands. Grounded
// on the teacher's cmd/main package (a package-level rootCmd built in
// init(), cobra.OnInitialize for viper config loading, one runXxx
// function per subcommand).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/orchestra-dev/orchestra/internal/config"
	"github.com/orchestra-dev/orchestra/internal/engine"
	"github.com/orchestra-dev/orchestra/internal/logging"
	"github.com/orchestra-dev/orchestra/internal/registry"
	"github.com/orchestra-dev/orchestra/internal/store"
)

var (
	cfgFile string
	debug   bool

	engineCfg *config.EngineConfig
	reg       = registry.New()
	eng       *engine.Engine

	rootCmd = &cobra.Command{
		Use:   "orchestrad",
		Short: "Workflow orchestration engine",
		Long:  "orchestrad runs and inspects gated, persona-assigned workflow state machines.",
	}
)

var cliLog = logging.Component("orchestrad")

func init() {
	cobra.OnInitialize(initEngine)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "engine config file (default none, env ORCHESTRA_* only)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(pauseCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(overrideCmd)
	rootCmd.AddCommand(dispatchCmd)
	rootCmd.AddCommand(validateCmd)
}

// initEngine loads engine config and builds the registry + engine shared
// by every subcommand, per cobra.OnInitialize running before RunE.
func initEngine() {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logging.Initialize(debug || cfg.Debug)
	engineCfg = cfg

	fileStore := store.New(cfg.Root)
	if err := fileStore.Ensure(); err != nil {
		fmt.Fprintf(os.Stderr, "initialize store at %s: %v\n", cfg.Root, err)
		os.Exit(1)
	}

	if result, err := reg.LoadAll(cfg.Root + "/workflows"); err != nil {
		fmt.Fprintf(os.Stderr, "load workflow definitions: %v\n", err)
		os.Exit(1)
	} else {
		for _, loadErr := range result.Errors {
			cliLog.Error("registry: %v", loadErr)
		}
	}

	eng = engine.New(fileStore, reg, nil)
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		cancel()
	}()

	rootCmd.SetContext(ctx)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
