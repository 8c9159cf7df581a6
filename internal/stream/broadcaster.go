// Package stream fans live frames out to passive viewers. The Broadcaster
// drives the session clock at a wall-time rate while running and delivers
// each rendered frame to every subscriber; the websocket layer on top turns
// browser connections into subscribers.
package stream

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cespare/xxhash"

	"github.com/thelolagemann/gameport/internal/session"
)

// Defaults for the streaming knobs.
const (
	// DefaultTargetFPS is the delivered frame rate. The console's native
	// tick rate usually exceeds what a network viewer needs, so each
	// delivered frame covers several simulation ticks.
	DefaultTargetFPS = 15

	// subscriberBuffer is each subscriber's frame backlog. A subscriber
	// that falls this far behind is dropped rather than allowed to stall
	// the tick for everyone else.
	subscriberBuffer = 16
)

type subscriber struct {
	ch   chan session.Frame
	once sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() { close(s.ch) })
}

// Broadcaster advances the session on a recurring timer and fans rendered
// frames out to subscribers. Start and Stop are idempotent. While no
// subscriber is attached the timer skips both the clock advance and the
// render, trading stream-clock fidelity for CPU time when nobody watches.
type Broadcaster struct {
	sess *session.Session
	log  *slog.Logger

	targetFPS int

	mu       sync.Mutex
	subs     map[*subscriber]struct{}
	running  bool
	stop     chan struct{}
	lastHash uint64
	last     *session.Frame
}

// New returns a stopped broadcaster for sess.
func New(sess *session.Session, targetFPS int, log *slog.Logger) *Broadcaster {
	if targetFPS <= 0 {
		targetFPS = DefaultTargetFPS
	}
	if log == nil {
		log = slog.Default()
	}
	return &Broadcaster{
		sess:      sess,
		log:       log,
		targetFPS: targetFPS,
		subs:      make(map[*subscriber]struct{}),
	}
}

// Start begins the timer loop. Calling Start on a running broadcaster is a
// no-op.
func (b *Broadcaster) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return
	}
	b.running = true
	b.stop = make(chan struct{})
	go b.loop(b.stop)
	b.log.Info("stream started", "fps", b.targetFPS)
}

// Stop halts the timer and drops every subscriber.
func (b *Broadcaster) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.running {
		return
	}
	b.running = false
	close(b.stop)
	for sub := range b.subs {
		sub.close()
		delete(b.subs, sub)
	}
	b.last = nil
	b.lastHash = 0
	b.log.Info("stream stopped")
}

// Running reports whether the timer loop is active.
func (b *Broadcaster) Running() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}

// Subscribers returns the number of attached sinks.
func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Subscribe attaches a sink and returns its frame channel plus a cancel
// function removing exactly this subscriber. The channel closes when the
// subscriber is cancelled, falls too far behind, or the stream stops. A
// late joiner is primed with the most recent frame, if any.
func (b *Broadcaster) Subscribe() (<-chan session.Frame, func()) {
	sub := &subscriber{ch: make(chan session.Frame, subscriberBuffer)}

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	if b.last != nil {
		sub.ch <- *b.last
	}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if _, ok := b.subs[sub]; ok {
			delete(b.subs, sub)
			sub.close()
		}
		b.mu.Unlock()
	}
	return sub.ch, cancel
}

// TargetFPS returns the configured delivery rate.
func (b *Broadcaster) TargetFPS() int { return b.targetFPS }

func (b *Broadcaster) loop(stop chan struct{}) {
	interval := time.Duration(1000/b.targetFPS) * time.Millisecond
	if interval <= 0 {
		interval = time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			b.step(context.Background())
		}
	}
}

// step runs one timer period: advance the clock by one delivery interval's
// worth of simulation ticks, render, fan out. Unchanged frames are not
// re-delivered.
func (b *Broadcaster) step(ctx context.Context) {
	if b.Subscribers() == 0 {
		return
	}

	st, err := b.sess.Status(ctx)
	if err != nil || !st.Loaded {
		return
	}

	ticks := (st.TickRate + b.targetFPS/2) / b.targetFPS
	if ticks < 1 {
		ticks = 1
	}
	frame, err := b.sess.Advance(ctx, ticks)
	if err != nil {
		b.log.Warn("stream tick failed", "err", err)
		return
	}

	h := xxhash.Sum64(frame.PNG)

	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.running {
		return
	}
	if h == b.lastHash && b.last != nil {
		return
	}
	b.lastHash = h
	b.last = &frame

	for sub := range b.subs {
		select {
		case sub.ch <- frame:
		default:
			// Subscriber backlog full: drop it rather than stall the rest.
			sub.close()
			delete(b.subs, sub)
			b.log.Warn("dropped slow stream subscriber")
		}
	}
}
