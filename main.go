// ABOUTME: Entry point for the Zync player
// ABOUTME: Loads layered configuration, joins a relay and plays in sync until interrupted
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/Vimlesh-Kumar/zync/internal/app"
	"github.com/Vimlesh-Kumar/zync/internal/config"
	"github.com/Vimlesh-Kumar/zync/internal/logging"
	"github.com/Vimlesh-Kumar/zync/internal/version"
	"github.com/rs/zerolog/log"
)

func main() {
	config.LoadDotEnv()

	cfg, err := config.LoadPlayer(os.Args[1:], nil)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	// With the TUI up the terminal belongs to it, so logs go to the file only
	closer, err := logging.Setup(logging.Options{
		File:    cfg.LogFile,
		Console: !cfg.TUI,
		Debug:   cfg.Debug,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("logging setup failed")
	}
	defer closer.Close()

	log.Info().
		Str("name", cfg.Name).
		Str("version", version.Version).
		Bool("audio", cfg.Audio).
		Msg("starting zync player")

	player := app.New(app.Config{
		ServerAddr:      cfg.Server,
		Port:            cfg.Port,
		Name:            cfg.Name,
		WantHost:        cfg.Host,
		UseTUI:          cfg.TUI,
		Audio:           cfg.Audio,
		SyncInterval:    cfg.SyncInterval,
		ProbeCount:      cfg.ProbeCount,
		ProbeInterval:   cfg.ProbeInterval(),
		DiscoverTimeout: cfg.DiscoverTimeout,
	})
	defer player.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := player.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("player error")
		player.Stop()
		os.Exit(1)
	}

	log.Info().Msg("player stopped")
}
