package events

import (
	"errors"
	"sync"
	"time"
)

// DefaultQueueSize is the per-subscriber buffered event capacity.
const DefaultQueueSize = 256

// ErrTerminal is returned when publishing to a job whose log already
// ended with a completed/failed event. The orchestrator treats this as
// an invariant violation, never a condition to retry.
var ErrTerminal = errors.New("event log is terminal")

// PresenceFunc is notified whenever a job's live subscriber count
// changes. Used to cancel jobs abandoned by every client.
type PresenceFunc func(jobID string, subscribers int)

// Broadcaster owns one append-only event log per job and fans events out
// to subscribers. Publication order is delivery order; the broadcaster
// never reorders.
type Broadcaster struct {
	mu        sync.Mutex
	queueSize int
	logs      map[string]*jobLog
	presence  PresenceFunc
	now       func() time.Time
}

type jobLog struct {
	events   []Event
	subs     map[*Subscriber]struct{}
	terminal bool
}

// NewBroadcaster creates a broadcaster with the given per-subscriber
// queue size (DefaultQueueSize if <= 0).
func NewBroadcaster(queueSize int) *Broadcaster {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Broadcaster{
		queueSize: queueSize,
		logs:      make(map[string]*jobLog),
		now:       time.Now,
	}
}

// SetPresenceFunc installs the subscriber-count callback. Must be called
// before the first Subscribe.
func (b *Broadcaster) SetPresenceFunc(fn PresenceFunc) {
	b.mu.Lock()
	b.presence = fn
	b.mu.Unlock()
}

// Publish appends a payload to the job's log and delivers it to every
// live subscriber. Returns the recorded event. Fails with ErrTerminal if
// the log already ended.
func (b *Broadcaster) Publish(jobID string, p Payload) (Event, error) {
	b.mu.Lock()
	l := b.log(jobID)
	if l.terminal {
		b.mu.Unlock()
		return Event{}, ErrTerminal
	}

	ev := Event{
		JobID:     jobID,
		Seq:       uint64(len(l.events)) + 1,
		Timestamp: b.now(),
		Type:      p.EventType(),
		Payload:   p,
	}
	l.events = append(l.events, ev)
	if ev.Type.Terminal() {
		l.terminal = true
	}

	subs := make([]*Subscriber, 0, len(l.subs))
	for s := range l.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		s.push(ev)
	}
	return ev, nil
}

// History returns a copy of the job's full event log.
func (b *Broadcaster) History(jobID string) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	l, ok := b.logs[jobID]
	if !ok {
		return nil
	}
	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}

// LastSeq returns the sequence number of the most recent event, 0 if none.
func (b *Broadcaster) LastSeq(jobID string) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	l, ok := b.logs[jobID]
	if !ok {
		return 0
	}
	return uint64(len(l.events))
}

// Terminal reports whether the job's log has ended.
func (b *Broadcaster) Terminal(jobID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	l, ok := b.logs[jobID]
	return ok && l.terminal
}

// Subscribers returns the current live subscriber count for a job.
func (b *Broadcaster) Subscribers(jobID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	l, ok := b.logs[jobID]
	if !ok {
		return 0
	}
	return len(l.subs)
}

// SubscribeOption adjusts how a subscriber joins the log.
type SubscribeOption func(*subscribeOptions)

type subscribeOptions struct {
	after    uint64
	snapshot *Snapshot
}

// After resumes delivery with the first event whose seq is greater than
// seq, replaying history as needed. After(0) replays the whole log.
func After(seq uint64) SubscribeOption {
	return func(o *subscribeOptions) { o.after = seq }
}

// WithSnapshot delivers a single synthetic snapshot event in place of
// history, then continues live. The snapshot's LastSeq is filled in with
// the log position it covers.
func WithSnapshot(snap Snapshot) SubscribeOption {
	return func(o *subscribeOptions) { o.snapshot = &snap }
}

// Subscribe attaches a new subscriber to the job's event stream.
// The caller must Close the subscriber when done.
func (b *Broadcaster) Subscribe(jobID string, opts ...SubscribeOption) *Subscriber {
	var o subscribeOptions
	for _, opt := range opts {
		opt(&o)
	}

	b.mu.Lock()
	l := b.log(jobID)

	sub := &Subscriber{
		jobID: jobID,
		b:     b,
		ch:    make(chan Event, b.queueSize),
		done:  make(chan struct{}),
	}

	var backlog []Event
	if o.snapshot != nil {
		snap := *o.snapshot
		snap.LastSeq = uint64(len(l.events))
		backlog = []Event{{
			JobID:     jobID,
			Seq:       snap.LastSeq,
			Timestamp: b.now(),
			Type:      TypeSnapshot,
			Payload:   snap,
		}}
	} else {
		for _, ev := range l.events {
			if ev.Seq > o.after {
				backlog = append(backlog, ev)
			}
		}
	}

	// Replay before registration, still under the lock: a concurrent
	// Publish can only see the subscriber once its backlog is queued,
	// so delivery order always matches production order.
	for _, ev := range backlog {
		sub.push(ev)
	}
	l.subs[sub] = struct{}{}
	presence, count := b.presence, len(l.subs)
	b.mu.Unlock()

	if presence != nil {
		presence(jobID, count)
	}
	return sub
}

// log returns the job's log, creating it on first use. Caller holds b.mu.
func (b *Broadcaster) log(jobID string) *jobLog {
	l, ok := b.logs[jobID]
	if !ok {
		l = &jobLog{subs: make(map[*Subscriber]struct{})}
		b.logs[jobID] = l
	}
	return l
}

func (b *Broadcaster) unsubscribe(sub *Subscriber) {
	b.mu.Lock()
	l, ok := b.logs[sub.jobID]
	if !ok {
		b.mu.Unlock()
		return
	}
	delete(l.subs, sub)
	presence, count := b.presence, len(l.subs)
	b.mu.Unlock()

	if presence != nil {
		presence(sub.jobID, count)
	}
}

// Drop discards a finished job's log and disconnects any remaining
// subscribers. Intended for cleanup after terminal jobs are archived.
func (b *Broadcaster) Drop(jobID string) {
	b.mu.Lock()
	l, ok := b.logs[jobID]
	if !ok {
		b.mu.Unlock()
		return
	}
	delete(b.logs, jobID)
	subs := make([]*Subscriber, 0, len(l.subs))
	for s := range l.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		s.Close()
	}
}

// Subscriber is one live delivery channel bound to a job. Its queue is
// bounded; when full, the oldest queued event is dropped to make room.
// The terminal event is always the newest entry in the log, so it can
// never be the one evicted.
type Subscriber struct {
	jobID     string
	b         *Broadcaster
	ch        chan Event
	done      chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	dropped int
}

// Events returns the subscriber's delivery channel. The channel is
// closed when the subscriber is closed; it is not closed on the job's
// terminal event, so callers should stop reading after observing one.
func (s *Subscriber) Events() <-chan Event {
	return s.ch
}

// Dropped returns how many events were evicted due to backpressure.
func (s *Subscriber) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Close detaches the subscriber from the broadcaster. Holding s.mu
// while closing guarantees no push is mid-send on the channel.
func (s *Subscriber) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		close(s.done)
		close(s.ch)
		s.mu.Unlock()
		s.b.unsubscribe(s)
	})
}

// push enqueues one event, evicting the oldest queued event when full.
func (s *Subscriber) push(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.done:
		return
	default:
	}

	for {
		select {
		case s.ch <- ev:
			return
		default:
		}
		select {
		case <-s.ch:
			s.dropped++
		default:
		}
	}
}
