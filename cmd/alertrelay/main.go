package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"alertrelay/internal/app"
	"alertrelay/internal/clock"
	"alertrelay/internal/config"
)

// main starts the alert relay using file or directory config source.
// Params: CLI flags (--config-file or --config-dir, optional --check-config).
// Returns: process exit code by startup/run result.
func main() {
	var (
		configFile  = flag.String("config-file", "", "path to one TOML config file")
		configDir   = flag.String("config-dir", "", "path to directory with TOML config fragments")
		checkConfig = flag.Bool("check-config", false, "validate configuration and exit")
	)
	flag.Parse()

	source, err := config.FromCLI(*configFile, *configDir)
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}

	if *checkConfig {
		cfg, err := config.LoadSnapshot(source)
		if err != nil {
			_, _ = fmt.Fprintln(os.Stderr, "config invalid:", err.Error())
			os.Exit(1)
		}
		_, _ = fmt.Fprintf(os.Stdout, "config ok: mode=%s targets=%d filter_rules=%d\n", cfg.Service.Mode, len(cfg.Targets.Target), len(cfg.Filter.Rule))
		return
	}

	service, err := app.NewService(source, clock.RealClock{})
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "service init failed:", err.Error())
		os.Exit(1)
	}

	if err := service.Run(context.Background()); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "service run failed:", err.Error())
		os.Exit(1)
	}
}
