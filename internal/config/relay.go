// ABOUTME: Configuration for the zync-relay binary
// ABOUTME: Defaults, flags and ZYNC_* environment keys
package config

import (
	"flag"
	"time"
)

// Relay configures the zync-relay binary
type Relay struct {
	Port            int      `yaml:"port"`
	Name            string   `yaml:"name"`
	MDNS            bool     `yaml:"mdns"`
	Debug           bool     `yaml:"debug"`
	TUI             bool     `yaml:"tui"`
	LogFile         string   `yaml:"log_file"`
	AudioFile       string   `yaml:"audio_file"`
	WatchAudio      bool     `yaml:"watch_audio"`
	DefaultLeadMs   int64    `yaml:"default_lead_ms"`
	RequireHost     bool     `yaml:"require_host"`
	NATSURL         string   `yaml:"nats_url"`
	NATSSubject     string   `yaml:"nats_subject"`
	AllowedOrigins  []string `yaml:"allowed_origins"`
	SendBuffer      int      `yaml:"send_buffer"`
	MaxMessageBytes int64    `yaml:"max_message_bytes"`
}

// DefaultRelay returns the relay defaults
func DefaultRelay() Relay {
	return Relay{
		Port:            8927,
		MDNS:            true,
		LogFile:         "zync-relay.log",
		WatchAudio:      true,
		DefaultLeadMs:   2000,
		NATSSubject:     "zync.events",
		AllowedOrigins:  []string{"*"},
		SendBuffer:      100,
		MaxMessageBytes: 64 << 20,
	}
}

// LoadRelay builds the relay configuration from args and the environment.
// A nil lookup reads the process environment.
func LoadRelay(args []string, lookup LookupFunc) (Relay, error) {
	cfg := DefaultRelay()
	if err := load("zync-relay", args, lookup, &cfg); err != nil {
		return cfg, err
	}
	if cfg.Name == "" {
		cfg.Name = DefaultName("zync-relay")
	}
	return cfg, nil
}

// DefaultLead returns DefaultLeadMs as a duration
func (c Relay) DefaultLead() time.Duration {
	return time.Duration(c.DefaultLeadMs) * time.Millisecond
}

func (c *Relay) bindFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.Port, "port", c.Port, "WebSocket server port")
	fs.StringVar(&c.Name, "name", c.Name, "Relay friendly name (default: hostname-zync-relay)")
	fs.Var(negatedBool{&c.MDNS}, "no-mdns", "Disable mDNS advertisement")
	fs.BoolVar(&c.Debug, "debug", c.Debug, "Enable debug logging")
	fs.BoolVar(&c.TUI, "tui", c.TUI, "Show the relay dashboard")
	fs.StringVar(&c.LogFile, "log-file", c.LogFile, "Log file path")
	fs.StringVar(&c.AudioFile, "audio", c.AudioFile, "Audio file to preload as the current track")
	fs.Var(negatedBool{&c.WatchAudio}, "no-watch", "Do not reload the audio file when it changes")
	fs.Int64Var(&c.DefaultLeadMs, "lead-ms", c.DefaultLeadMs, "Default scheduling lead for play in milliseconds")
	fs.BoolVar(&c.RequireHost, "require-host", c.RequireHost, "Drop playback commands from non-host devices")
	fs.StringVar(&c.NATSURL, "nats-url", c.NATSURL, "NATS server to mirror playback events to (empty disables)")
	fs.StringVar(&c.NATSSubject, "nats-subject", c.NATSSubject, "NATS subject prefix for mirrored events")
	fs.Var(listFlag{&c.AllowedOrigins}, "allowed-origins", "Comma-separated CORS origins")
	fs.IntVar(&c.SendBuffer, "send-buffer", c.SendBuffer, "Per-connection outbound queue length")
	fs.Int64Var(&c.MaxMessageBytes, "max-message-bytes", c.MaxMessageBytes, "Largest accepted inbound frame")
}

func (c *Relay) applyEnv(env envReader) error {
	env.String("NAME", &c.Name)
	env.String("LOG_FILE", &c.LogFile)
	env.String("AUDIO_FILE", &c.AudioFile)
	env.String("NATS_URL", &c.NATSURL)
	env.String("NATS_SUBJECT", &c.NATSSubject)
	env.List("ALLOWED_ORIGINS", &c.AllowedOrigins)

	for _, err := range []error{
		env.Int("PORT", &c.Port),
		env.Bool("MDNS", &c.MDNS),
		env.Bool("DEBUG", &c.Debug),
		env.Bool("TUI", &c.TUI),
		env.Bool("WATCH_AUDIO", &c.WatchAudio),
		env.Int64("DEFAULT_LEAD_MS", &c.DefaultLeadMs),
		env.Bool("REQUIRE_HOST", &c.RequireHost),
		env.Int("SEND_BUFFER", &c.SendBuffer),
		env.Int64("MAX_MESSAGE_BYTES", &c.MaxMessageBytes),
	} {
		if err != nil {
			return err
		}
	}
	return nil
}
