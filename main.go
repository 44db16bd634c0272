// flowchat - A terminal chat client for streaming workflow APIs.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/jeranaias/flowchat/internal/chat"
	"github.com/jeranaias/flowchat/internal/cli"
	"github.com/jeranaias/flowchat/internal/config"
	"github.com/jeranaias/flowchat/internal/identity"
	"github.com/jeranaias/flowchat/internal/settings"
	"github.com/jeranaias/flowchat/internal/storage"
	"github.com/jeranaias/flowchat/internal/telemetry"
	"github.com/jeranaias/flowchat/internal/util"
	"github.com/jeranaias/flowchat/internal/workflow"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "%s %s\n", cli.ErrorStyle.Render("Error:"), cli.ErrorMessage(err))
		if errors.Is(err, chat.ErrConfigurationMissing) {
			fmt.Fprintln(os.Stderr, "Set FLOWCHAT_BASE_URL and FLOWCHAT_API_KEY, or run flowchat interactively and use /settings.")
		}
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  = flag.String("config", "", "path to config.toml (default ~/.flowchat/config.toml)")
		initConfig  = flag.Bool("init-config", false, "write a default config file and exit")
		showVersion = flag.Bool("version", false, "print version and exit")
	)
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: flowchat [flags] [question...]\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *showVersion {
		fmt.Printf("flowchat %s (%s, %s)\n", Version, GitCommit, BuildDate)
		return nil
	}

	if *initConfig {
		return writeDefaultConfig(*configPath)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	// ==========================================================================
	// LOGGING AND TELEMETRY
	// ==========================================================================

	logger, closeLog, err := telemetry.InitLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.InitTelemetry(ctx, cfg.Telemetry, cfg.Logging, Version)
		if err != nil {
			logger.Warn("telemetry disabled", "error", err)
		} else {
			defer shutdown()
		}
	}

	logger.Info("starting", "version", Version, "dev", cfg.Dev.Enabled, "settings_backend", cfg.Storage.Settings)

	// ==========================================================================
	// SETTINGS
	// ==========================================================================

	var backend storage.Store = storage.NewMemoryStore()
	if cfg.Storage.Settings == "session" {
		backend = storage.NewFileStore(cfg.Storage.SessionFile)
	}
	store := settings.NewStore(backend, logger)

	// Config and environment values seed the session settings
	current := store.Read()
	if seeded := cli.MergeSettings(current, cfg.API.BaseURL, cfg.API.APIKey); seeded != current {
		if err := store.Save(seeded); err != nil {
			logger.Warn("seeded settings not persisted", "error", err)
		}
	}

	unsubscribe := store.Subscribe(func(s settings.Settings) {
		logger.Info("settings changed",
			"base_url", s.BaseURL,
			"key_fingerprint", util.Fingerprint(s.APIKey),
			"configured", s.IsConfigured())
	})
	defer unsubscribe()

	if cfg.Storage.Settings == "session" {
		watcher, err := settings.NewWatcher(store, cfg.Storage.SessionFile, logger)
		if err != nil {
			logger.Warn("settings watcher disabled", "error", err)
		} else {
			go watcher.Run(ctx)
		}
	}

	// ==========================================================================
	// IDENTITY
	// ==========================================================================

	var durable storage.Store
	if db, err := storage.OpenSQLite(cfg.Storage.StateDB); err != nil {
		// RELIABILITY: chat still works; the id just will not survive a restart
		logger.Warn("state database unavailable, client id is not durable", "path", cfg.Storage.StateDB, "error", err)
		durable = storage.NewMemoryStore()
	} else {
		defer db.Close()
		durable = db
	}
	ids := identity.NewProvider(durable, logger)

	// ==========================================================================
	// TRANSPORT AND CONTROLLER
	// ==========================================================================

	client := workflow.NewClient().
		WithUserAgent(cfg.API.UserAgent).
		WithLogger(logger).
		WithRateLimit(cfg.API.RequestsPerMinute)
	if cfg.Dev.Enabled {
		client = client.WithDevProxy(cfg.Dev.ProxyURL)
	}

	ctrl := chat.NewController(chat.Config{
		Transport: client,
		Settings:  store,
		Identity:  ids,
		Logger:    logger,
	})
	defer ctrl.Close()

	// ==========================================================================
	// FRONT END
	// ==========================================================================

	cli.ApplyTheme(cfg.UI.Theme)
	session, err := cli.NewSession(cli.Options{
		Controller: ctrl,
		Settings:   store,
		Identity:   ids,
		Endpoint:   client.Endpoint,
		UI:         cfg.UI,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	err = session.Run(flag.Args())
	logger.Info("exiting", "error", err)
	return err
}

// writeDefaultConfig saves a default config to path, refusing to overwrite.
func writeDefaultConfig(path string) error {
	if path == "" {
		p, err := config.ConfigPath()
		if err != nil {
			return err
		}
		path = p
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}

	if err := config.SaveTOML(config.Default(), path); err != nil {
		return err
	}
	fmt.Printf("%s Wrote %s\n", cli.CommandStyle.Render("[OK]"), path)
	return nil
}
