package realtime

import (
	"sync"
	"time"
)

// heartbeatScheduler periodically sends a keep-alive frame while the session
// is connected. One scheduler serves exactly one connection: every reconnect
// gets a fresh instance, and stop is final.
type heartbeatScheduler struct {
	logger   Logger
	interval time.Duration
	send     func() error

	startOnce sync.Once
	stopOnce  sync.Once
	stopC     chan struct{}
}

func newHeartbeatScheduler(logger Logger, interval time.Duration, send func() error) *heartbeatScheduler {
	return &heartbeatScheduler{
		logger:   logger.WithField("component", "heartbeat"),
		interval: interval,
		send:     send,
		stopC:    make(chan struct{}),
	}
}

// start spawns the ticker goroutine. Subsequent calls have no effect.
func (h *heartbeatScheduler) start() {
	h.startOnce.Do(func() {
		if h.interval <= 0 {
			return
		}
		go h.run()
	})
}

// stop halts the scheduler. Subsequent calls have no effect.
func (h *heartbeatScheduler) stop() {
	h.stopOnce.Do(func() {
		close(h.stopC)
	})
}

func (h *heartbeatScheduler) run() {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-h.stopC:
			return
		case <-ticker.C:
			if err := h.send(); err != nil {
				// The transport close path already drives recovery; the
				// failed beat is only worth a log line.
				h.logger.Warnf("heartbeat send failed: %s", err)
			}
		}
	}
}
