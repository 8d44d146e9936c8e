// ABOUTME: mDNS service discovery for Zync relays and players
// ABOUTME: Relays advertise _zync._tcp with their WebSocket path; players browse for them
package discovery

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/Vimlesh-Kumar/zync/internal/version"
	"github.com/hashicorp/mdns"
	"github.com/rs/zerolog/log"
)

const (
	// RelayService is advertised by relays
	RelayService = "_zync._tcp"
	// PlayerService is advertised by players
	PlayerService = "_zync-player._tcp"

	// DefaultPath is the relay WebSocket path when a TXT record omits it
	DefaultPath = "/zync"

	browseTimeout = 3 * time.Second
)

// Config holds discovery configuration
type Config struct {
	ServiceName string
	Port        int
	ServerMode  bool // If true, advertise as a relay, otherwise as a player
}

// Manager handles mDNS operations
type Manager struct {
	config  Config
	ctx     context.Context
	cancel  context.CancelFunc
	servers chan *ServerInfo
}

// ServerInfo describes a discovered relay
type ServerInfo struct {
	Name    string
	Host    string
	Port    int
	Path    string
	Version string
}

// Address returns host:port
func (s *ServerInfo) Address() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// URL returns the relay's WebSocket URL
func (s *ServerInfo) URL() string {
	return "ws://" + s.Address() + s.Path
}

// NewManager creates a discovery manager
func NewManager(config Config) *Manager {
	ctx, cancel := context.WithCancel(context.Background())

	return &Manager{
		config:  config,
		ctx:     ctx,
		cancel:  cancel,
		servers: make(chan *ServerInfo, 10),
	}
}

// Advertise announces this relay or player via mDNS
func (m *Manager) Advertise() error {
	ips, err := getLocalIPs()
	if err != nil {
		return fmt.Errorf("failed to get local IPs: %w", err)
	}

	serviceType := PlayerService
	if m.config.ServerMode {
		serviceType = RelayService
	}

	service, err := mdns.NewMDNSService(
		m.config.ServiceName,
		serviceType,
		"",
		"",
		m.config.Port,
		ips,
		txtRecords(),
	)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return fmt.Errorf("failed to create mdns server: %w", err)
	}

	log.Info().
		Str("name", m.config.ServiceName).
		Int("port", m.config.Port).
		Str("type", serviceType).
		Msg("advertising mDNS service")

	go func() {
		<-m.ctx.Done()
		_ = server.Shutdown()
	}()

	return nil
}

func txtRecords() []string {
	return []string{"path=" + DefaultPath, "version=" + version.Version}
}

// Browse searches for relays until Stop is called
func (m *Manager) Browse() error {
	go m.browseLoop()
	return nil
}

// browseLoop continuously browses for relays
func (m *Manager) browseLoop() {
	for {
		select {
		case <-m.ctx.Done():
			return
		default:
		}

		entries := make(chan *mdns.ServiceEntry, 10)
		done := make(chan struct{})

		go func() {
			defer close(done)
			for entry := range entries {
				server, ok := fromEntry(entry)
				if !ok {
					continue
				}

				log.Info().Str("name", server.Name).Str("addr", server.Address()).Msg("discovered relay")

				select {
				case m.servers <- server:
				case <-m.ctx.Done():
				}
			}
		}()

		params := mdns.DefaultParams(RelayService)
		params.Timeout = browseTimeout
		params.Entries = entries
		params.DisableIPv6 = true

		err := mdns.Query(params)
		close(entries)
		<-done

		if err != nil {
			log.Debug().Err(err).Msg("mDNS query failed")
			select {
			case <-time.After(browseTimeout):
			case <-m.ctx.Done():
				return
			}
		}
	}
}

// fromEntry converts a service entry, skipping ones without an IPv4 address
func fromEntry(entry *mdns.ServiceEntry) (*ServerInfo, bool) {
	if entry == nil || entry.AddrV4 == nil {
		return nil, false
	}

	txt := parseTXT(entry.InfoFields)
	path := txt["path"]
	if path == "" {
		path = DefaultPath
	}

	return &ServerInfo{
		Name:    entry.Name,
		Host:    entry.AddrV4.String(),
		Port:    entry.Port,
		Path:    path,
		Version: txt["version"],
	}, true
}

// parseTXT splits key=value TXT fields
func parseTXT(fields []string) map[string]string {
	out := make(map[string]string, len(fields))
	for _, f := range fields {
		k, v, ok := strings.Cut(f, "=")
		if !ok {
			continue
		}
		out[k] = v
	}
	return out
}

// Servers returns the channel of discovered relays
func (m *Manager) Servers() <-chan *ServerInfo {
	return m.servers
}

// Stop stops the discovery manager
func (m *Manager) Stop() {
	m.cancel()
}

// getLocalIPs returns local IP addresses
func getLocalIPs() ([]net.IP, error) {
	var ips []net.IP

	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
				if ipnet.IP.To4() != nil {
					ips = append(ips, ipnet.IP)
				}
			}
		}
	}

	return ips, nil
}
