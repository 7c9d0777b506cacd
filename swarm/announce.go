package swarm

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v3"
	"github.com/torrentlabs/gorrent/tracker"
)

const maxAnnounceAttempts = 3

// announceLoop performs the initial "started" announce and then re-
// announces every AnnounceInterval (or the tracker's own interval, once
// known).
func (sw *Swarm) announceLoop(ctx context.Context) {
	interval := sw.cfg.AnnounceInterval

	ctxAnnounce, cancel := context.WithTimeout(ctx, sw.cfg.TrackerTimeout)
	if got, err := sw.announceRetry(ctxAnnounce, tracker.EventStarted); err == nil && got > 0 {
		interval = got
	}
	cancel()

	t := time.NewTimer(interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			ctxAnnounce, cancel := context.WithTimeout(ctx, sw.cfg.TrackerTimeout)
			got, err := sw.announceRetry(ctxAnnounce, tracker.EventNone)
			cancel()
			if err == nil && got > 0 {
				interval = got
			}
			t.Reset(interval)
		case <-sw.closeC:
			return
		}
	}
}

// announceRetry wraps a single announce attempt in exponential backoff,
// capped at maxAnnounceAttempts; tracker failures are logged and never
// abort the swarm.
func (sw *Swarm) announceRetry(ctx context.Context, event tracker.Event) (time.Duration, error) {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 1 * time.Second
	b := backoff.WithMaxRetries(backoff.WithContext(eb, ctx), maxAnnounceAttempts-1)

	var interval time.Duration
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		resp, err := sw.doAnnounce(ctx, event)
		if err != nil {
			sw.log.Warningf("announce attempt %d failed: %s", attempt, err)
			return err
		}
		interval = resp
		return nil
	}, b)
	return interval, err
}

// announce performs exactly one announce, for use on the terminal
// "completed"/"stopped" events where retrying past the caller's deadline
// would delay shutdown.
func (sw *Swarm) announce(ctx context.Context, event tracker.Event) error {
	_, err := sw.doAnnounce(ctx, event)
	return err
}

func (sw *Swarm) doAnnounce(ctx context.Context, event tracker.Event) (time.Duration, error) {
	resp, err := sw.tracker.Announce(ctx, tracker.AnnounceRequest{
		InfoHash:   sw.meta.InfoHash,
		PeerID:     sw.peerID,
		Port:       sw.listenPort,
		Downloaded: sw.store.Downloaded(),
		Left:       int64(sw.meta.Length) - sw.store.Downloaded(),
		NumWant:    sw.cfg.MaxPeers,
		Event:      event,
	})
	if err != nil {
		return 0, err
	}
	sw.AddPeers(resp.Peers)
	return resp.Interval, nil
}
