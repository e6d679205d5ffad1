// Copyright 2019 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// The echobot command connects with the account from a YAML configuration file
// and replies to chat messages with the same contents.
//
// For more information try running:
//
//	echobot -help
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"mellium.im/xmppcore"
	"mellium.im/xmppcore/compress"
)

/* #nosec */
const envPass = "XMPP_PASS"

func main() {
	var (
		configPath = "echobot.yml"
		verbose    bool
		zlib       bool
	)
	flags := pflag.NewFlagSet(os.Args[0], pflag.ContinueOnError)
	flags.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage of %s:\n", flags.Name())
		fmt.Fprintf(os.Stderr, "\n  $%s: overrides the password from the config file\n\n", envPass)
		flags.PrintDefaults()
	}
	flags.StringVarP(&configPath, "config", "c", configPath, "the YAML config file to load")
	flags.BoolVarP(&verbose, "verbose", "v", verbose, "turns on debug logging")
	flags.BoolVar(&zlib, "compress", zlib, "negotiate stream compression if the server offers it")

	switch err := flags.Parse(os.Args[1:]); {
	case errors.Is(err, pflag.ErrHelp):
		return
	case err != nil:
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cfg, err := xmpp.LoadConfigFile(configPath)
	if err != nil {
		logger.Error("loading config", "err", err)
		os.Exit(1)
	}
	if pass := os.Getenv(envPass); pass != "" {
		cfg.Password = pass
	}

	s, err := cfg.NewSession(logger)
	if err != nil {
		logger.Error("configuring session", "err", err)
		os.Exit(1)
	}
	if zlib {
		s.RegisterFeature(compress.New())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, s, logger); err != nil {
		logger.Error("session ended", "err", err)
		os.Exit(1)
	}
}
