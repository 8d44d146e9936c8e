// ABOUTME: Entry point for the Zync relay
// ABOUTME: Loads layered configuration and runs the relay until interrupted
package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/Vimlesh-Kumar/zync/internal/config"
	"github.com/Vimlesh-Kumar/zync/internal/logging"
	"github.com/Vimlesh-Kumar/zync/internal/server"
	"github.com/rs/zerolog/log"
)

func main() {
	config.LoadDotEnv()

	cfg, err := config.LoadRelay(os.Args[1:], nil)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

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
		Int("port", cfg.Port).
		Str("log_file", cfg.LogFile).
		Msg("starting zync relay")

	srv, err := server.New(server.Config{
		Port:            cfg.Port,
		Name:            cfg.Name,
		EnableMDNS:      cfg.MDNS,
		Debug:           cfg.Debug,
		UseTUI:          cfg.TUI,
		AudioFile:       cfg.AudioFile,
		WatchAudio:      cfg.WatchAudio,
		DefaultLead:     cfg.DefaultLead(),
		RequireHost:     cfg.RequireHost,
		NATSURL:         cfg.NATSURL,
		NATSSubject:     cfg.NATSSubject,
		AllowedOrigins:  cfg.AllowedOrigins,
		SendBuffer:      cfg.SendBuffer,
		MaxMessageBytes: cfg.MaxMessageBytes,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("could not create relay")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Info().Str("signal", sig.String()).Msg("shutting down")
		srv.Stop()
	}()

	if err := srv.Start(); err != nil {
		log.Fatal().Err(err).Msg("relay error")
	}

	log.Info().Msg("relay stopped")
}
