package swarm

import (
	"os"
	"time"

	"github.com/torrentlabs/gorrent/internal/piece"
	"github.com/torrentlabs/gorrent/scheduler"
	"github.com/torrentlabs/gorrent/session"
	"gopkg.in/yaml.v2"
)

// Config carries every tunable named by the engine's concurrency and
// resource model. LoadFile overlays a YAML file onto an existing Config, so
// fields the file omits keep the receiver's value (DefaultConfig's, when
// called on it).
type Config struct {
	MaxPeers             int           `yaml:"max_peers"`
	RequestWindow        int           `yaml:"request_window"`
	BlockSize            uint32        `yaml:"block_size"`
	AnnounceInterval      time.Duration `yaml:"announce_interval"`
	RequestTimeout       time.Duration `yaml:"request_timeout"`
	MaintenanceInterval  time.Duration `yaml:"maintenance_interval"`
	PeerIdleTimeout      time.Duration `yaml:"peer_idle_timeout"`
	DialTimeout          time.Duration `yaml:"dial_timeout"`
	HandshakeTimeout     time.Duration `yaml:"handshake_timeout"`
	TrackerTimeout       time.Duration `yaml:"tracker_timeout"`
	DownloadDir          string        `yaml:"download_dir"`
	FullFileCheck        bool          `yaml:"full_file_check"`
	DialInterval         time.Duration `yaml:"dial_interval"`
	// DownloadRateLimit caps per-session download bytes/sec; 0 disables
	// limiting. The engine never seeds, so there is no upload counterpart.
	DownloadRateLimit int64 `yaml:"download_rate_limit"`
}

// DefaultConfig returns the engine's documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxPeers:            30,
		RequestWindow:       session.RequestWindow,
		BlockSize:           piece.BlockSize,
		AnnounceInterval:     30 * time.Minute,
		RequestTimeout:      scheduler.RequestTimeout,
		MaintenanceInterval: scheduler.MaintenanceInterval,
		PeerIdleTimeout:     120 * time.Second,
		DialTimeout:         10 * time.Second,
		HandshakeTimeout:    10 * time.Second,
		TrackerTimeout:      15 * time.Second,
		DownloadDir:         ".",
		FullFileCheck:       false,
		DialInterval:        5 * time.Second,
	}
}

// LoadFile overlays YAML-configured fields from path onto a copy of c.
func (c Config) LoadFile(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return c, err
	}
	return c, nil
}
