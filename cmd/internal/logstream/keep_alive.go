package logstream

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultKeepAliveInterval is well below the idle timeout of the platform log endpoint
	DefaultKeepAliveInterval = 75 * time.Second
	KeepAlivePayload         = "keep alive"
)

// Session is the part of an open streaming session the keep alive needs.
type Session interface {
	IsOpen() bool
	SendText(payload string) error
}

// KeepAlive sends a no-op text frame over a session at a fixed interval. It cancels itself once the
// session is closed. Cancel may be called any number of times, from any goroutine.
type KeepAlive struct {
	session   Session
	interval  time.Duration
	mu        sync.Mutex
	timer     *time.Timer
	cancelled bool
	done      chan struct{}
}

// StartKeepAlive schedules the first keep alive one interval from now. A non-positive interval
// means DefaultKeepAliveInterval.
func StartKeepAlive(session Session, interval time.Duration) *KeepAlive {
	if interval <= 0 {
		interval = DefaultKeepAliveInterval
	}

	k := &KeepAlive{
		session:  session,
		interval: interval,
		done:     make(chan struct{}),
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	k.timer = time.AfterFunc(interval, k.tick)

	return k
}

func (k *KeepAlive) Interval() time.Duration {
	return k.interval
}

// Done is closed once the keep alive is cancelled.
func (k *KeepAlive) Done() <-chan struct{} {
	return k.done
}

func (k *KeepAlive) Cancel() {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.cancelled {
		return
	}

	k.cancelled = true
	k.timer.Stop()
	close(k.done)
}

func (k *KeepAlive) isCancelled() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.cancelled
}

func (k *KeepAlive) tick() {
	if k.isCancelled() {
		return
	}

	if !k.session.IsOpen() {
		zap.L().Debug("Log stream closed, cancelling keep alive")
		k.Cancel()
		return
	}

	if err := k.session.SendText(KeepAlivePayload); err != nil {
		zap.L().Debug("Failed to send keep alive", zap.Error(err))
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	// a Cancel that raced with the send must not be undone
	if !k.cancelled {
		k.timer.Reset(k.interval)
	}
}
