// Package swarm implements the Swarm Orchestrator: engine lifecycle,
// peer-set maintenance, the tracker announce schedule, and the wiring
// between sessions, the scheduler, and the store.
package swarm

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/torrentlabs/gorrent/internal/logger"
	"github.com/torrentlabs/gorrent/metainfo"
	"github.com/torrentlabs/gorrent/peerid"
	"github.com/torrentlabs/gorrent/scheduler"
	"github.com/torrentlabs/gorrent/session"
	"github.com/torrentlabs/gorrent/store"
	"github.com/torrentlabs/gorrent/tracker"
	"golang.org/x/sync/semaphore"
)

// Swarm is one running download: a store, a scheduler, the set of
// currently connected sessions, and the known-peer address book fed by the
// tracker.
type Swarm struct {
	meta    *metainfo.TorrentMeta
	cfg     Config
	peerID  [20]byte
	listenPort uint16

	store   *store.Store
	sched   *scheduler.Scheduler
	tracker tracker.Tracker

	dialSem *semaphore.Weighted

	mu         sync.Mutex
	knownPeers map[string]knownPeer
	connected  map[string]*session.Session

	log logger.Logger

	closeC    chan struct{}
	doneC     chan struct{}
	completeC chan struct{}
}

// knownPeer is an address the tracker has told us about. addedAt backs the
// bounded-TTL eviction policy: the source never evicts known peers at all,
// which risks unbounded growth on long-running sessions with churned
// swarms, so this implementation sweeps entries older than knownPeerTTL
// whose peer is not currently connected.
type knownPeer struct {
	addr    *net.TCPAddr
	addedAt time.Time
}

// New builds a Swarm for meta, initializing its Piece Store and Scheduler.
// If the store is already complete, IsComplete() will report true and
// Run/Close should still be called so the engine performs the terminal
// "completed" announce before exiting.
func New(meta *metainfo.TorrentMeta, cfg Config, tr tracker.Tracker) (*Swarm, error) {
	st, err := store.Open(cfg.DownloadDir, meta.Name, meta.Length, meta.PieceLength, meta.Hashes, cfg.FullFileCheck)
	if err != nil {
		return nil, err
	}
	id, err := peerid.Generate()
	if err != nil {
		st.Close()
		return nil, err
	}
	sw := &Swarm{
		meta:       meta,
		cfg:        cfg,
		peerID:     id,
		store:      st,
		sched:      scheduler.New(st, cfg.RequestWindow),
		tracker:    tr,
		dialSem:    semaphore.NewWeighted(int64(cfg.MaxPeers)),
		knownPeers: make(map[string]knownPeer),
		connected:  make(map[string]*session.Session),
		log:        logger.New("swarm"),
		closeC:     make(chan struct{}),
		doneC:      make(chan struct{}),
		completeC:  make(chan struct{}, 1),
	}
	return sw, nil
}

// IsComplete reports whether every piece is already verified.
func (sw *Swarm) IsComplete() bool { return sw.store.IsComplete() }

// Complete returns a channel that receives once when the download
// finishes.
func (sw *Swarm) Complete() <-chan struct{} { return sw.completeC }

// Run starts the dial loop, the announce loop, the maintenance ticker, and
// the store-event and eviction fan-in. It returns immediately; call Close
// to shut the swarm down.
//
// Per the startup sequence, a store that is already fully verified (e.g. a
// resume with FullFileCheck) skips the normal started-announce-and-download
// path entirely: there is nothing to schedule or dial, so Run fires the
// terminal completed announce and signals Complete() instead. Without this
// check a fully-verified resume would send a started announce and then wait
// on Complete() forever, since store.DownloadCompleteEvent only fires on a
// piece *transitioning* to complete and never on an already-complete store.
func (sw *Swarm) Run(ctx context.Context) {
	if sw.store.IsComplete() {
		go sw.onComplete()
		return
	}
	go sw.announceLoop(ctx)
	go sw.dialLoop(ctx)
	go sw.maintenanceLoop()
	go sw.storeEventLoop()
	go sw.evictionLoop()
}

func (sw *Swarm) maintenanceLoop() {
	t := time.NewTicker(sw.cfg.MaintenanceInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			sw.sched.Maintain()
		case <-sw.closeC:
			return
		}
	}
}

func (sw *Swarm) storeEventLoop() {
	for {
		select {
		case ev, ok := <-sw.store.Events():
			if !ok {
				return
			}
			sw.sched.HandleStoreEvent(ev)
			if _, done := ev.(store.DownloadCompleteEvent); done {
				sw.onComplete()
			}
		case <-sw.closeC:
			return
		}
	}
}

func (sw *Swarm) evictionLoop() {
	for {
		select {
		case sess, ok := <-sw.sched.Evicted():
			if !ok {
				return
			}
			sw.log.Infof("evicting snubbing peer %s", sess.Addr)
			sess.Close()
		case <-sw.closeC:
			return
		}
	}
}

func (sw *Swarm) onComplete() {
	sw.log.Info("download complete")
	select {
	case sw.completeC <- struct{}{}:
	default:
	}
	ctx, cancel := context.WithTimeout(context.Background(), sw.cfg.TrackerTimeout)
	defer cancel()
	sw.announce(ctx, tracker.EventCompleted)
}

// Close stops all background loops, destroys every session, issues a
// best-effort final "stopped" announce, and closes the store. Errors from
// any of these independent shutdown steps are aggregated rather than
// stopping the rest of the sequence.
func (sw *Swarm) Close() error {
	close(sw.closeC)

	var result error
	ctx, cancel := context.WithTimeout(context.Background(), sw.cfg.TrackerTimeout)
	if err := sw.announce(ctx, tracker.EventStopped); err != nil {
		result = multierror.Append(result, err)
	}
	cancel()

	sw.mu.Lock()
	sessions := make([]*session.Session, 0, len(sw.connected))
	for _, sess := range sw.connected {
		sessions = append(sessions, sess)
	}
	sw.mu.Unlock()
	for _, sess := range sessions {
		sess.Close()
	}

	if err := sw.store.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	close(sw.doneC)
	return result
}

// Done reports when Close has finished tearing everything down.
func (sw *Swarm) Done() <-chan struct{} { return sw.doneC }

