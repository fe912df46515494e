// -----------------------------------------------------------------------
// GenieOps service entry point
// -----------------------------------------------------------------------

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/genieops/internal/app"
	"github.com/ternarybob/genieops/internal/common"
	"github.com/ternarybob/genieops/internal/server"
	"github.com/ternarybob/genieops/internal/services/browser"
)

// configPaths is a custom flag type that allows multiple -config flags
type configPaths []string

func (c *configPaths) String() string {
	return fmt.Sprintf("%v", *c)
}

func (c *configPaths) Set(value string) error {
	*c = append(*c, value)
	return nil
}

const shutdownTimeout = 30 * time.Second

func main() {
	// Browser worker processes are spawned as "genieops worker -index N"
	if len(os.Args) > 1 && os.Args[1] == "worker" {
		os.Exit(runWorker(os.Args[2:]))
	}

	var configFiles configPaths
	flag.Var(&configFiles, "config", "Configuration file path (can be specified multiple times, later files override earlier ones)")
	flag.Var(&configFiles, "c", "Configuration file path (shorthand)")
	serverPort := flag.Int("port", 0, "Server port (overrides config)")
	serverHost := flag.String("host", "", "Server host (overrides config)")
	showVersion := flag.Bool("version", false, "Print version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("GenieOps version %s\n", common.GetVersion())
		return
	}

	// Auto-discover config file if not specified
	if len(configFiles) == 0 {
		if _, err := os.Stat("genieops.toml"); err == nil {
			configFiles = append(configFiles, "genieops.toml")
		} else if _, err := os.Stat("deployments/local/genieops.toml"); err == nil {
			configFiles = append(configFiles, "deployments/local/genieops.toml")
		}
	}

	// Startup order: config (defaults -> files -> env), CLI overrides,
	// logger, banner
	config, err := common.LoadFromFiles(configFiles...)
	if err != nil {
		arbor.NewLogger().Fatal().Strs("paths", configFiles).Err(err).Msg("Failed to load configuration")
		os.Exit(1)
	}
	common.ApplyFlagOverrides(config, *serverPort, *serverHost)

	logger := common.InitLogger(config)
	common.InstallCrashHandler(common.LogsDir())
	defer common.RecoverWithCrashFile("service")

	for _, name := range config.UnresolvedEnvRefs() {
		logger.Warn().Str("variable", name).Msg("Config references an unset environment variable")
	}

	common.PrintBanner(common.GetVersion())
	common.PrintStartupSummary(config)

	logger.Info().
		Strs("config_files", configFiles).
		Int("port", config.Server.Port).
		Str("host", config.Server.Host).
		Msg("Starting GenieOps server")

	application, err := app.New(config, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize application")
		os.Exit(1)
	}

	if err := application.Start(); err != nil {
		logger.Error().Err(err).Msg("Failed to start application")
		_ = application.Close()
		os.Exit(1)
	}

	srv := server.New(application)
	serverErr := make(chan error, 1)
	go func() {
		defer common.RecoverWithCrashFile("http")
		serverErr <- srv.Start()
	}()

	logger.Info().
		Str("url", fmt.Sprintf("http://%s:%d", config.Server.Host, config.Server.Port)).
		Msg("Server ready - Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	exitCode := 0
	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			logger.Error().Err(err).Msg("HTTP server failed")
			exitCode = 1
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Server shutdown failed")
	}
	if err := application.Close(); err != nil {
		logger.Error().Err(err).Msg("Application shutdown failed")
		exitCode = 1
	}

	logger.Info().Msg("Server stopped")
	if exitCode != 0 {
		os.Exit(exitCode)
	}
}

// runWorker serves browser commands over stdin/stdout until the parent
// closes the pipe or sends a termination signal
func runWorker(args []string) int {
	fs := flag.NewFlagSet("worker", flag.ExitOnError)
	index := fs.Int("index", 0, "Worker slot index")
	_ = fs.Parse(args)

	common.InstallCrashHandler(common.LogsDir())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := browser.RunWorkerProcess(ctx, *index); err != nil {
		fmt.Fprintf(os.Stderr, "worker %d: %v\n", *index, err)
		return 1
	}
	return 0
}
