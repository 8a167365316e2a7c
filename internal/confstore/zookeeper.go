package confstore

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-zookeeper/zk"
	"github.com/rs/zerolog"
)

// watchRetryDelay is how long a watch loop waits before retrying after a
// transient ZooKeeper error (session expiry, connection loss).
const watchRetryDelay = 2 * time.Second

// ZooKeeperWatcher watches znodes for data changes.
// Each watched entry gets its own goroutine that re-arms the watch after
// every delivery, mirroring a persistent data watch.
type ZooKeeperWatcher struct {
	conn   *zk.Conn
	logger zerolog.Logger

	done     chan struct{}
	wg       sync.WaitGroup
	closeOne sync.Once
}

// NewZooKeeperWatcher connects to the given ZooKeeper ensemble.
func NewZooKeeperWatcher(servers []string, sessionTimeout time.Duration, logger zerolog.Logger) (*ZooKeeperWatcher, error) {
	conn, _, err := zk.Connect(servers, sessionTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to zookeeper: %w", err)
	}
	return &ZooKeeperWatcher{
		conn:   conn,
		logger: logger.With().Str("component", "zk_confstore").Logger(),
		done:   make(chan struct{}),
	}, nil
}

// Watch starts a persistent data watch on the given znode path.
func (w *ZooKeeperWatcher) Watch(entry string, fn WatchFunc) error {
	select {
	case <-w.done:
		return errors.New("watcher is closed")
	default:
	}

	w.wg.Add(1)
	go w.watchLoop(entry, fn)
	return nil
}

// Close stops all watch loops and closes the ZooKeeper session.
func (w *ZooKeeperWatcher) Close() error {
	w.closeOne.Do(func() {
		close(w.done)
		w.wg.Wait()
		w.conn.Close()
	})
	return nil
}

// watchLoop reads the znode, delivers its state, and blocks until the next
// change event before re-reading. A read delivers even when the znode is
// absent, so registrations observe "not configured yet" immediately.
func (w *ZooKeeperWatcher) watchLoop(entry string, fn WatchFunc) {
	defer w.wg.Done()

	for {
		events, delivered := w.armWatch(entry, fn)
		if !delivered {
			// Transient error; back off before retrying.
			select {
			case <-time.After(watchRetryDelay):
				continue
			case <-w.done:
				return
			}
		}

		select {
		case <-events:
		case <-w.done:
			return
		}
	}
}

// armWatch performs one read-and-deliver cycle and returns the event
// channel that fires on the next change. delivered is false when the read
// failed for a reason other than the znode being absent.
func (w *ZooKeeperWatcher) armWatch(entry string, fn WatchFunc) (<-chan zk.Event, bool) {
	data, stat, events, err := w.conn.GetW(entry)
	if err == nil {
		fn(data, zkStat(stat))
		return events, true
	}

	if !errors.Is(err, zk.ErrNoNode) {
		w.logger.Warn().Err(err).Str("entry", entry).Msg("Failed to read config entry")
		return nil, false
	}

	// Znode does not exist yet: watch for its creation instead.
	exists, _, events, err := w.conn.ExistsW(entry)
	if err != nil {
		w.logger.Warn().Err(err).Str("entry", entry).Msg("Failed to arm existence watch")
		return nil, false
	}
	if exists {
		// Created between GetW and ExistsW; re-read right away.
		fired := make(chan zk.Event, 1)
		fired <- zk.Event{Type: zk.EventNodeCreated, Path: entry}
		return fired, true
	}

	fn(nil, Stat{})
	return events, true
}

func zkStat(st *zk.Stat) Stat {
	if st == nil {
		return Stat{}
	}
	return Stat{
		Version:    st.Version,
		ModifiedAt: time.UnixMilli(st.Mtime),
	}
}
