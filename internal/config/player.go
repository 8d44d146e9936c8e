// ABOUTME: Configuration for the zync player binary
// ABOUTME: Defaults, flags and ZYNC_* environment keys
package config

import (
	"flag"
	"time"
)

// Player configures the zync player binary
type Player struct {
	Server          string        `yaml:"server"`
	Name            string        `yaml:"name"`
	Port            int           `yaml:"port"`
	Host            bool          `yaml:"host"`
	Debug           bool          `yaml:"debug"`
	LogFile         string        `yaml:"log_file"`
	TUI             bool          `yaml:"tui"`
	Audio           bool          `yaml:"audio"`
	SyncInterval    time.Duration `yaml:"sync_interval"`
	ProbeCount      int           `yaml:"probe_count"`
	ProbeIntervalMs int           `yaml:"probe_interval_ms"`
	DiscoverTimeout time.Duration `yaml:"discover_timeout"`
}

// DefaultPlayer returns the player defaults
func DefaultPlayer() Player {
	return Player{
		Port:            8927,
		LogFile:         "zync-player.log",
		TUI:             true,
		Audio:           true,
		SyncInterval:    30 * time.Second,
		ProbeCount:      20,
		ProbeIntervalMs: 20,
		DiscoverTimeout: 10 * time.Second,
	}
}

// LoadPlayer builds the player configuration from args and the environment.
// A nil lookup reads the process environment.
func LoadPlayer(args []string, lookup LookupFunc) (Player, error) {
	cfg := DefaultPlayer()
	if err := load("zync", args, lookup, &cfg); err != nil {
		return cfg, err
	}
	if cfg.Name == "" {
		cfg.Name = DefaultName("zync-player")
	}
	return cfg, nil
}

// ProbeInterval returns ProbeIntervalMs as a duration
func (c Player) ProbeInterval() time.Duration {
	return time.Duration(c.ProbeIntervalMs) * time.Millisecond
}

func (c *Player) bindFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.Server, "server", c.Server, "Manual relay address host:port (skip mDNS)")
	fs.StringVar(&c.Name, "name", c.Name, "Player friendly name (default: hostname-zync-player)")
	fs.IntVar(&c.Port, "port", c.Port, "Port for mDNS advertisement")
	fs.BoolVar(&c.Host, "host", c.Host, "Request the host role on connect")
	fs.BoolVar(&c.Debug, "debug", c.Debug, "Enable debug logging")
	fs.StringVar(&c.LogFile, "log-file", c.LogFile, "Log file path")
	fs.Var(negatedBool{&c.TUI}, "no-tui", "Disable TUI, use streaming logs instead")
	fs.Var(negatedBool{&c.Audio}, "no-audio", "Track playback without opening an audio device")
	fs.DurationVar(&c.SyncInterval, "sync-interval", c.SyncInterval, "Clock resync interval (0 disables)")
	fs.IntVar(&c.ProbeCount, "probes", c.ProbeCount, "Probes per clock sync run")
	fs.IntVar(&c.ProbeIntervalMs, "probe-interval-ms", c.ProbeIntervalMs, "Spacing between probes in milliseconds")
	fs.DurationVar(&c.DiscoverTimeout, "discover-timeout", c.DiscoverTimeout, "How long to browse mDNS for a relay")
}

func (c *Player) applyEnv(env envReader) error {
	env.String("SERVER", &c.Server)
	env.String("NAME", &c.Name)
	env.String("LOG_FILE", &c.LogFile)

	for _, err := range []error{
		env.Int("PORT", &c.Port),
		env.Bool("HOST", &c.Host),
		env.Bool("DEBUG", &c.Debug),
		env.Bool("TUI", &c.TUI),
		env.Bool("AUDIO", &c.Audio),
		env.Duration("SYNC_INTERVAL", &c.SyncInterval),
		env.Int("PROBE_COUNT", &c.ProbeCount),
		env.Int("PROBE_INTERVAL_MS", &c.ProbeIntervalMs),
		env.Duration("DISCOVER_TIMEOUT", &c.DiscoverTimeout),
	} {
		if err != nil {
			return err
		}
	}
	return nil
}
