// Command ethat runs the Ethernet AT console of a NAT router on a host. It
// brings the LAN interface up, serves DHCP and optional HTTP diagnostics and
// telemetry, and reads AT commands from the terminal.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"

	"github.com/soypat/ethat/config"
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "ethat - Ethernet AT command console and LAN bring-up.\n\tUsage:\n")
		flag.PrintDefaults()
	}
	flagConfig := flag.String("config", "", "YAML configuration file. Built-in defaults are used when empty.")
	flagNoLiner := flag.Bool("no-liner", false, "Read commands without line editing.")
	flag.Parse()

	cfg := config.Default()
	if *flagConfig != "" {
		var err error
		cfg, err = config.Load(*flagConfig)
		if err != nil {
			log.Fatal(err)
		}
	}
	logger, err := newLogger(cfg.Logging, os.Stderr)
	if err != nil {
		log.Fatal(err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	err = run(ctx, cfg, logger, *flagNoLiner)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal(err)
	}
}

func newLogger(cfg config.LoggingConfig, w *os.File) (*slog.Logger, error) {
	level, err := config.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger, noLiner bool) error {
	sys, err := setup(cfg, logger)
	if err != nil {
		return err
	}
	defer sys.close()
	err = sys.start(ctx, cfg)
	if err != nil {
		return err
	}
	prompter, closePrompter := newPrompter(noLiner, sys.reg)
	defer closePrompter()
	return sys.console(prompter, os.Stdout).Run(ctx)
}
