package swarm

import (
	"context"
	"net"
	"time"

	"github.com/juju/ratelimit"
	"github.com/torrentlabs/gorrent/session"
)

// knownPeerTTL bounds how long an address that has never been successfully
// connected is retained, so a long-running swarm with heavy peer churn
// doesn't grow its address book without limit. Addresses of currently
// connected peers are skipped by the sweep; once a peer disconnects, its
// address is swept like any other when it is older than knownPeerTTL.
const knownPeerTTL = 2 * time.Hour

// AddPeers merges freshly announced addresses into the known-peer set.
// Called by the announce loop with the tracker's response.
func (sw *Swarm) AddPeers(addrs []*net.TCPAddr) {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	for _, a := range addrs {
		key := a.String()
		if _, ok := sw.knownPeers[key]; !ok {
			sw.knownPeers[key] = knownPeer{addr: a, addedAt: time.Now()}
		}
	}
}

func (sw *Swarm) dialLoop(ctx context.Context) {
	t := time.NewTicker(sw.cfg.DialInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			sw.sweepKnownPeers()
			sw.dialMore(ctx)
		case <-sw.closeC:
			return
		}
	}
}

func (sw *Swarm) sweepKnownPeers() {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	now := time.Now()
	for key, kp := range sw.knownPeers {
		if _, connected := sw.connected[key]; connected {
			continue
		}
		if now.Sub(kp.addedAt) > knownPeerTTL {
			delete(sw.knownPeers, key)
		}
	}
}

// dialMore attempts enough new connections to bring the connected set up
// to MaxPeers, without ever exceeding it.
func (sw *Swarm) dialMore(ctx context.Context) {
	if sw.store.IsComplete() {
		return
	}
	candidates := sw.pickDialCandidates()
	for _, addr := range candidates {
		if !sw.dialSem.TryAcquire(1) {
			return
		}
		go sw.dialOne(ctx, addr)
	}
}

func (sw *Swarm) pickDialCandidates() []*net.TCPAddr {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	room := sw.cfg.MaxPeers - len(sw.connected)
	if room <= 0 {
		return nil
	}
	out := make([]*net.TCPAddr, 0, room)
	for key, kp := range sw.knownPeers {
		if len(out) >= room {
			break
		}
		if _, ok := sw.connected[key]; ok {
			continue
		}
		out = append(out, kp.addr)
	}
	return out
}

func (sw *Swarm) dialOne(ctx context.Context, addr *net.TCPAddr) {
	defer sw.dialSem.Release(1)

	dialCtx, cancel := context.WithTimeout(ctx, sw.cfg.DialTimeout+sw.cfg.HandshakeTimeout)
	defer cancel()

	sess, err := session.Dial(dialCtx, addr, sw.meta.InfoHash, sw.peerID, sw.store.NumPieces())
	if err != nil {
		sw.log.Debugf("dial %s failed: %s", addr, err)
		return
	}
	if sw.cfg.DownloadRateLimit > 0 {
		sess.SetLimiter(ratelimit.NewBucketWithRate(float64(sw.cfg.DownloadRateLimit), sw.cfg.DownloadRateLimit))
	}

	key := addr.String()
	sw.mu.Lock()
	sw.connected[key] = sess
	sw.mu.Unlock()

	sw.sched.AddSession(sess)
	sw.runSession(sess, key)
}

// runSession drains one session's event stream into the scheduler until it
// terminates, then evicts it from the connected set.
func (sw *Swarm) runSession(sess *session.Session, key string) {
	go sess.Run()
	for ev := range sess.Events() {
		sw.sched.HandleSessionEvent(sess, ev)
	}
	sw.mu.Lock()
	delete(sw.connected, key)
	sw.mu.Unlock()
}
