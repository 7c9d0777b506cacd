// Command gorrent downloads a single-file torrent to a destination
// directory and exits once the download completes.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cenkalti/log"
	"github.com/mitchellh/go-homedir"
	"github.com/torrentlabs/gorrent/internal/logger"
	"github.com/torrentlabs/gorrent/metainfo"
	"github.com/torrentlabs/gorrent/swarm"
	"github.com/torrentlabs/gorrent/tracker/httptracker"
)

var (
	dest       = flag.String("dest", ".", "where to download")
	configPath = flag.String("config", "", "config file path")
	debug      = flag.Bool("debug", false, "enable debug log")
)

func main() {
	flag.Parse()
	if *debug {
		logger.SetLevel(log.DEBUG)
	}

	args := flag.Args()
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: gorrent [flags] file.torrent")
		os.Exit(1)
	}

	f, err := os.Open(args[0])
	if err != nil {
		log.Fatal(err)
	}
	meta, err := metainfo.New(f)
	f.Close()
	if err != nil {
		log.Fatal(err)
	}

	cfg := swarm.DefaultConfig()
	cfg.DownloadDir = *dest
	if *configPath != "" {
		cp, err := homedir.Expand(*configPath)
		if err != nil {
			log.Fatal(err)
		}
		cfg, err = cfg.LoadFile(cp)
		if err != nil {
			log.Fatal(err)
		}
	}

	tr, err := httptracker.New(meta.Announce, cfg.TrackerTimeout)
	if err != nil {
		log.Fatal(err)
	}

	sw, err := swarm.New(meta, cfg, tr)
	if err != nil {
		log.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sw.Run(ctx)

	sigC := make(chan os.Signal, 1)
	signal.Notify(sigC, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigC:
	case <-sw.Complete():
		fmt.Println("download complete")
	}

	if err := sw.Close(); err != nil {
		log.Fatal(err)
	}
}
