package swarm

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	c := DefaultConfig()
	if c.MaxPeers != 30 {
		t.Fatalf("MaxPeers = %d, want 30", c.MaxPeers)
	}
	if c.FullFileCheck {
		t.Fatal("FullFileCheck should default to false")
	}
	if c.DownloadRateLimit != 0 {
		t.Fatalf("DownloadRateLimit = %d, want 0 (disabled)", c.DownloadRateLimit)
	}
}

func TestLoadFileOverlaysOntoDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := "max_peers: 50\ndownload_rate_limit: 1048576\nfull_file_check: true\n"
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	c, err := DefaultConfig().LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if c.MaxPeers != 50 {
		t.Fatalf("MaxPeers = %d, want 50", c.MaxPeers)
	}
	if c.DownloadRateLimit != 1048576 {
		t.Fatalf("DownloadRateLimit = %d, want 1048576", c.DownloadRateLimit)
	}
	if !c.FullFileCheck {
		t.Fatal("FullFileCheck should be true after overlay")
	}
	// Fields absent from the YAML keep their DefaultConfig() value.
	if c.RequestTimeout != DefaultConfig().RequestTimeout {
		t.Fatalf("RequestTimeout = %s, want default %s", c.RequestTimeout, DefaultConfig().RequestTimeout)
	}
}

func TestLoadFileMissingFileReturnsError(t *testing.T) {
	_, err := DefaultConfig().LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("expected an error for a missing config file")
	}
}

func TestDefaultConfigDurationsArePositive(t *testing.T) {
	c := DefaultConfig()
	for name, d := range map[string]time.Duration{
		"AnnounceInterval":     c.AnnounceInterval,
		"RequestTimeout":       c.RequestTimeout,
		"MaintenanceInterval":  c.MaintenanceInterval,
		"PeerIdleTimeout":      c.PeerIdleTimeout,
		"DialTimeout":          c.DialTimeout,
		"HandshakeTimeout":     c.HandshakeTimeout,
		"TrackerTimeout":       c.TrackerTimeout,
		"DialInterval":         c.DialInterval,
	} {
		if d <= 0 {
			t.Fatalf("%s = %s, want > 0", name, d)
		}
	}
}
