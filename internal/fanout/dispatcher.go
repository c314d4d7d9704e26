// Package fanout multiplexes chunks from target pipelines to every
// connected listener of a (session, target) pair, preserving order.
package fanout

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"

	"github.com/vocallabs/translate-gateway/internal/observability"
	"github.com/vocallabs/translate-gateway/internal/session"
)

// Listener is one delivery channel to a playback client. Implementations
// must not block: a stalled client should fail the send (and be dropped)
// rather than stall the dispatcher.
type Listener interface {
	// SendText delivers a JSON metadata message.
	SendText(payload []byte) error

	// SendBinary delivers an audio payload.
	SendBinary(payload []byte) error
}

type streamKey struct {
	sessionID string
	target    string
}

type stream struct {
	listeners []Listener
	lastChunk *session.Chunk
}

// Dispatcher maintains, per (session, target), the connected listeners and
// the most recent chunk so late joiners get immediate state rather than
// silence. It implements session.Publisher.
type Dispatcher struct {
	logger zerolog.Logger

	mu      sync.RWMutex
	streams map[streamKey]*stream
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		logger:  observability.GetLogger().With().Str("component", "fanout").Logger(),
		streams: make(map[streamKey]*stream),
	}
}

// Register adds a listener for a (session, target) pair. A listener that
// joins mid-session immediately receives the most recent chunk, never the
// full history. The replay happens under the same lock that orders
// publishes, so a chunk racing the registration can neither overtake the
// replay nor be delivered twice.
func (d *Dispatcher) Register(sessionID, target string, l Listener) {
	key := streamKey{sessionID, target}

	d.mu.Lock()
	st, ok := d.streams[key]
	if !ok {
		st = &stream{}
		d.streams[key] = st
	}
	st.listeners = append(st.listeners, l)

	var replayErr error
	if st.lastChunk != nil {
		if replayErr = d.deliver(l, st.lastChunk); replayErr != nil {
			d.removeLocked(key, l)
		}
	}
	d.mu.Unlock()

	observability.RecordListenerJoin(target)
	d.logger.Info().
		Str("session_id", sessionID).
		Str("target", target).
		Msg("Listener registered")

	if replayErr != nil {
		d.reportDropped(key, replayErr)
	}
}

// Unregister removes a listener from a (session, target) pair.
func (d *Dispatcher) Unregister(sessionID, target string, l Listener) {
	key := streamKey{sessionID, target}

	d.mu.Lock()
	removed := d.removeLocked(key, l)
	d.mu.Unlock()

	if removed {
		observability.RecordListenerLeave(target)
	}
}

// Publish delivers a chunk to every listener of its (session, target)
// pair: metadata first, then the audio payload, in arrival order. A failed
// listener is dropped; it never blocks delivery to the others. Delivery
// runs under the stream lock: listener sends are non-blocking by contract,
// and serializing here is what keeps per-listener order across concurrent
// publishes and registrations.
func (d *Dispatcher) Publish(chunk *session.Chunk) {
	key := streamKey{chunk.SessionID, chunk.Target}

	d.mu.Lock()
	st, ok := d.streams[key]
	if !ok {
		st = &stream{}
		d.streams[key] = st
	}
	st.lastChunk = chunk

	if len(st.listeners) == 0 {
		d.mu.Unlock()
		d.logger.Debug().
			Str("chunk_id", chunk.ID).
			Str("target", chunk.Target).
			Msg("No listeners, chunk retained as latest only")
		return
	}

	var failed []Listener
	var failErr error
	for _, l := range st.listeners {
		if err := d.deliver(l, chunk); err != nil {
			failed = append(failed, l)
			failErr = err
		}
	}
	for _, l := range failed {
		d.removeLocked(key, l)
	}
	d.mu.Unlock()

	for range failed {
		d.reportDropped(key, failErr)
	}
}

// CloseSession notifies every listener of a session that it ended and
// removes all of its streams.
func (d *Dispatcher) CloseSession(sessionID string) {
	d.mu.Lock()
	var dropped []struct {
		key streamKey
		l   Listener
	}
	for key, st := range d.streams {
		if key.sessionID != sessionID {
			continue
		}
		for _, l := range st.listeners {
			dropped = append(dropped, struct {
				key streamKey
				l   Listener
			}{key, l})
		}
		delete(d.streams, key)
	}
	d.mu.Unlock()

	notice, _ := json.Marshal(map[string]string{
		"session_id": sessionID,
		"event":      "session_closed",
	})
	for _, item := range dropped {
		_ = item.l.SendText(notice)
		observability.RecordListenerLeave(item.key.target)
	}
}

// deliver sends the metadata message and, unless the chunk is a skipped
// marker, the audio payload for the same chunk id.
func (d *Dispatcher) deliver(l Listener, chunk *session.Chunk) error {
	meta, err := json.Marshal(chunk.Meta())
	if err != nil {
		return err
	}
	if err := l.SendText(meta); err != nil {
		return err
	}
	if chunk.Skipped || len(chunk.Audio) == 0 {
		return nil
	}
	return l.SendBinary(chunk.Audio)
}

func (d *Dispatcher) reportDropped(key streamKey, cause error) {
	observability.RecordListenerLeave(key.target)
	observability.RecordListenerDropped()
	d.logger.Warn().
		Err(cause).
		Str("session_id", key.sessionID).
		Str("target", key.target).
		Msg("Dropping failed listener")
}

func (d *Dispatcher) removeLocked(key streamKey, l Listener) bool {
	st, ok := d.streams[key]
	if !ok {
		return false
	}
	for i, existing := range st.listeners {
		if existing == l {
			st.listeners = append(st.listeners[:i], st.listeners[i+1:]...)
			return true
		}
	}
	return false
}
