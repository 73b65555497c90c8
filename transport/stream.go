// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/bureau-foundation/tandem/lib/activity"
	"github.com/bureau-foundation/tandem/lib/ref"
	"github.com/bureau-foundation/tandem/lib/wire"
)

// StreamConfig configures a Stream.
type StreamConfig struct {
	// Local is the participant this stream belongs to. Sends addressed
	// to Local are delivered back through the handler.
	Local ref.UserID

	// Options controls frame compression on outgoing links.
	Options wire.Options

	// OnDisconnect, when set, is called once for every link that ends
	// for any reason other than Close.
	OnDisconnect func(peer ref.UserID, err error)

	Logger *slog.Logger
}

// Stream carries activities over byte-stream connections, one link per
// peer. Each link has a reader and a writer goroutine; writes are
// queued so Send never blocks on the network.
type Stream struct {
	local        ref.UserID
	options      wire.Options
	onDisconnect func(ref.UserID, error)
	logger       *slog.Logger

	mu       sync.Mutex
	handler  Handler
	links    map[ref.UserID]*link
	loopback *mailbox[[]byte]
	closed   bool
}

type link struct {
	peer   ref.UserID
	conn   net.Conn
	writes *mailbox[[]byte]
	once   sync.Once
}

var _ Transport = (*Stream)(nil)

// NewStream returns a stream with no links. Call Handle before
// attaching connections.
func NewStream(config StreamConfig) *Stream {
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Stream{
		local:        config.Local,
		options:      config.Options,
		onDisconnect: config.OnDisconnect,
		logger:       logger,
		links:        make(map[ref.UserID]*link),
		loopback:     newMailbox[[]byte](),
	}
}

// Handle sets the handler for incoming activities and starts loopback
// delivery. Only the first call has an effect.
func (s *Stream) Handle(handler Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handler != nil {
		return
	}
	s.handler = handler
	go func() {
		for {
			payload, ok := s.loopback.pop()
			if !ok {
				return
			}
			s.deliver(s.local, payload, handler)
		}
	}()
}

func (s *Stream) deliver(from ref.UserID, payload []byte, handler Handler) {
	a, err := activity.Unmarshal(payload)
	if err != nil {
		s.logger.Error("dropping undecodable activity", "from", from, "error", err)
		return
	}
	handler(from, a)
}

// Attach starts exchanging activities with peer over conn. The
// connection must already have completed the handshake.
func (s *Stream) Attach(peer ref.UserID, conn net.Conn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.closed:
		return errors.New("transport: stream is shut down")
	case s.handler == nil:
		return errors.New("transport: Handle must be called before Attach")
	case peer == s.local:
		return fmt.Errorf("transport: cannot attach a link to self (%s)", peer)
	}
	if _, exists := s.links[peer]; exists {
		return fmt.Errorf("transport: %s is already connected", peer)
	}

	l := &link{peer: peer, conn: conn, writes: newMailbox[[]byte]()}
	s.links[peer] = l
	go s.readLoop(l, s.handler)
	go s.writeLoop(l)
	s.logger.Info("link attached", "peer", peer, "remote_addr", conn.RemoteAddr().String())
	return nil
}

func (s *Stream) readLoop(l *link, handler Handler) {
	for {
		frame, err := wire.ReadFrame(l.conn)
		if err != nil {
			s.drop(l, err)
			return
		}
		if frame.Type != wire.FrameActivity {
			s.logger.Warn("ignoring unexpected frame", "peer", l.peer, "type", frame.Type)
			continue
		}
		s.deliver(l.peer, frame.Payload, handler)
	}
}

func (s *Stream) writeLoop(l *link) {
	for {
		payload, ok := l.writes.pop()
		if !ok {
			return
		}
		if err := wire.WriteFrame(l.conn, wire.Frame{Type: wire.FrameActivity, Payload: payload}, s.options); err != nil {
			s.drop(l, err)
			return
		}
	}
}

// drop ends a link that failed on its own.
func (s *Stream) drop(l *link, err error) {
	if !s.remove(l) {
		return
	}
	s.logger.Info("link lost", "peer", l.peer, "error", err)
	if s.onDisconnect != nil {
		s.onDisconnect(l.peer, err)
	}
}

// remove detaches l and closes it. It reports whether l was still
// attached.
func (s *Stream) remove(l *link) bool {
	s.mu.Lock()
	current := s.links[l.peer] == l
	if current {
		delete(s.links, l.peer)
	}
	s.mu.Unlock()
	l.once.Do(func() {
		l.writes.close()
		l.conn.Close()
	})
	return current
}

// Send encodes a once and queues it on the link to each recipient.
func (s *Stream) Send(_ context.Context, recipients []ref.UserID, a activity.Activity) error {
	payload, err := activity.Marshal(a)
	if err != nil {
		return fmt.Errorf("transport: encoding %s: %w", activity.Kind(a), err)
	}
	failed := make(map[ref.UserID]error)
	for _, to := range recipients {
		if to == s.local {
			if !s.loopback.push(payload) {
				failed[to] = ErrDisconnected
			}
			continue
		}
		s.mu.Lock()
		l, ok := s.links[to]
		s.mu.Unlock()
		if !ok {
			failed[to] = ErrUnknownRecipient
			continue
		}
		if !l.writes.push(payload) {
			failed[to] = ErrDisconnected
		}
	}
	return sendResult(failed)
}

// Close ends the link to id. Activities still queued for it are
// discarded. OnDisconnect is not called.
func (s *Stream) Close(id ref.UserID) error {
	s.mu.Lock()
	l, ok := s.links[id]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRecipient, id)
	}
	s.remove(l)
	return nil
}

// Peers returns the participants with an attached link.
func (s *Stream) Peers() []ref.UserID {
	s.mu.Lock()
	defer s.mu.Unlock()
	peers := make([]ref.UserID, 0, len(s.links))
	for peer := range s.links {
		peers = append(peers, peer)
	}
	return ref.SortUserIDs(peers)
}

// Shutdown closes every link and stops loopback delivery.
func (s *Stream) Shutdown() {
	s.mu.Lock()
	s.closed = true
	links := make([]*link, 0, len(s.links))
	for _, l := range s.links {
		links = append(links, l)
	}
	s.mu.Unlock()
	for _, l := range links {
		s.remove(l)
	}
	s.loopback.close()
}
