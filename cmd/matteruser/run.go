// Copyright 2024-2026 Aiku AI

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"go.mau.fi/util/exzerolog"
	"golang.org/x/sync/errgroup"

	"github.com/aiku/matteruser/pkg/connector"
	"github.com/aiku/matteruser/pkg/robot"
)

const brainSaveInterval = 5 * time.Second

func runBot(cmd *cobra.Command, _ []string) error {
	cfg, err := connector.LoadConfig(configPath, saveConfig)
	if err != nil {
		return err
	}
	log, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}

	var store robot.Store
	if cfg.BrainFile != "" {
		store = &robot.YAMLStore{Path: cfg.BrainFile}
	}
	brain := robot.NewBrain(store, log)
	rb := robot.New(botName, brain, log)
	client := connector.NewMattermostClient(cfg, log)
	adapter := connector.NewMattermostConnector(rb, cfg, client)
	registerDefaultListeners(rb, adapter)

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err = brain.Load(ctx); err != nil {
		return err
	}

	log.Info().
		Str("version", Tag).
		Str("server", cfg.ServerURL()).
		Str("team", cfg.Group).
		Msg("Starting matteruser")

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return rb.Run(egCtx)
	})
	eg.Go(func() error {
		return brain.Autosave(egCtx, brainSaveInterval)
	})
	err = eg.Wait()
	log.Info().Msg("Stopped")
	return err
}

func newLogger(level string) (zerolog.Logger, error) {
	lvl := zerolog.InfoLevel
	if level != "" {
		var err error
		lvl, err = zerolog.ParseLevel(strings.ToLower(level))
		if err != nil {
			return zerolog.Nop(), fmt.Errorf("invalid log level %q: %w", level, err)
		}
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(lvl).
		With().Timestamp().
		Logger()
	exzerolog.SetupDefaults(&log)
	return log, nil
}

// registerDefaultListeners installs the built-in ping command and join logging.
func registerDefaultListeners(rb *robot.Robot, adapter *connector.MattermostConnector) {
	rb.Listen(func(msg robot.Message) bool {
		text, ok := msg.(*robot.TextMessage)
		return ok && strings.EqualFold(text.TrimmedText, "ping") && text.Text != text.TrimmedText
	}, func(ctx context.Context, res *robot.Response) {
		if err := res.Reply(ctx, "PONG"); err != nil {
			rb.Log.Warn().Err(err).Msg("Failed to answer ping")
		}
	})
	rb.Listen(func(msg robot.Message) bool {
		_, ok := msg.(*robot.EnterMessage)
		return ok
	}, func(ctx context.Context, res *robot.Response) {
		user := res.Message.MessageUser()
		if user == nil {
			return
		}
		if self := adapter.Self(); self != nil && self.Id == user.ID {
			return
		}
		rb.Log.Debug().Str("user_id", user.ID).Str("channel_id", res.Message.MessageRoom()).Msg("User entered channel")
	})
	rb.On(robot.EventConnected, func(any) {
		rb.Log.Info().Str("name", rb.Name()).Msg("Robot connected")
	})
}
