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
	"time"

	"github.com/bureau-foundation/tandem/lib/codec"
	"github.com/bureau-foundation/tandem/lib/ref"
	"github.com/bureau-foundation/tandem/lib/wire"
)

// ErrRejected is returned by Dial when the host refuses the handshake.
var ErrRejected = errors.New("transport: host rejected the connection")

// HandshakeTimeout bounds the hello/welcome exchange.
const HandshakeTimeout = 10 * time.Second

type hello struct {
	ID ref.UserID `cbor:"id"`
}

type welcome struct {
	Host ref.UserID `cbor:"host"`
}

type reject struct {
	Reason string `cbor:"reason"`
}

// AdmitFunc runs for every participant that completes the handshake,
// on its own goroutine, after the link is attached. Returning an error
// closes the link.
type AdmitFunc func(ctx context.Context, id ref.UserID) error

// Listener accepts TCP connections for a host's Stream.
type Listener struct {
	listener net.Listener
	stream   *Stream
	admit    AdmitFunc
	logger   *slog.Logger
	admits   sync.WaitGroup
}

// Listen opens a TCP listener on address (e.g. "127.0.0.1:7464"; use
// port 0 for a random port). Connections are attached to stream.
func Listen(address string, stream *Stream, admit AdmitFunc, logger *slog.Logger) (*Listener, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, err
	}
	return &Listener{listener: listener, stream: stream, admit: admit, logger: logger}, nil
}

// Address returns the listening address in "host:port" form.
func (l *Listener) Address() string {
	return l.listener.Addr().String()
}

// Serve accepts connections until ctx is cancelled or Close is called,
// then waits for running admissions. Returns nil on clean shutdown.
func (l *Listener) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		l.listener.Close()
	}()
	defer l.admits.Wait()
	for {
		conn, err := l.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		l.admits.Add(1)
		go func() {
			defer l.admits.Done()
			l.accept(ctx, conn)
		}()
	}
}

// Close stops accepting connections.
func (l *Listener) Close() error {
	return l.listener.Close()
}

func (l *Listener) accept(ctx context.Context, conn net.Conn) {
	logger := l.logger.With("remote_addr", conn.RemoteAddr().String())
	id, err := l.handshake(conn)
	if err != nil {
		logger.Warn("handshake failed", "error", err)
		conn.Close()
		return
	}
	if err := l.stream.Attach(id, conn); err != nil {
		logger.Warn("attaching link failed", "participant", id, "error", err)
		conn.Close()
		return
	}
	if l.admit == nil {
		return
	}
	if err := l.admit(ctx, id); err != nil {
		logger.Warn("participant not admitted", "participant", id, "error", err)
		l.stream.Close(id)
	}
}

func (l *Listener) handshake(conn net.Conn) (ref.UserID, error) {
	conn.SetDeadline(time.Now().Add(HandshakeTimeout))
	defer conn.SetDeadline(time.Time{})

	frame, err := wire.ReadFrame(conn)
	if err != nil {
		return "", err
	}
	if frame.Type != wire.FrameHello {
		return "", fmt.Errorf("expected hello, got frame type 0x%02x", frame.Type)
	}
	var greeting hello
	if err := codec.Unmarshal(frame.Payload, &greeting); err != nil {
		return "", l.refuse(conn, fmt.Errorf("decoding hello: %w", err))
	}

	var refusal error
	switch {
	case greeting.ID == l.stream.local:
		refusal = fmt.Errorf("identifier %s is the host's", greeting.ID)
	case ref.ContainsUser(l.stream.Peers(), greeting.ID):
		refusal = fmt.Errorf("identifier %s is already connected", greeting.ID)
	}
	if refusal != nil {
		return "", l.refuse(conn, refusal)
	}

	payload, err := codec.Marshal(welcome{Host: l.stream.local})
	if err != nil {
		return "", err
	}
	if err := wire.WriteFrame(conn, wire.Frame{Type: wire.FrameWelcome, Payload: payload}, wire.Options{}); err != nil {
		return "", err
	}
	return greeting.ID, nil
}

// refuse tells the peer why it was turned away and returns reason.
func (l *Listener) refuse(conn net.Conn, reason error) error {
	payload, err := codec.Marshal(reject{Reason: reason.Error()})
	if err == nil {
		err = wire.WriteFrame(conn, wire.Frame{Type: wire.FrameReject, Payload: payload}, wire.Options{})
	}
	if err != nil {
		l.logger.Debug("sending rejection failed", "error", err)
	}
	return reason
}

// Dial connects to the host at address and introduces local. It returns
// the connection and the host's identity, ready for Stream.Attach.
func Dial(ctx context.Context, address string, local ref.UserID) (net.Conn, ref.UserID, error) {
	conn, err := (&net.Dialer{Timeout: HandshakeTimeout}).DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, "", err
	}
	host, err := introduce(conn, local)
	if err != nil {
		conn.Close()
		return nil, "", err
	}
	return conn, host, nil
}

func introduce(conn net.Conn, local ref.UserID) (ref.UserID, error) {
	conn.SetDeadline(time.Now().Add(HandshakeTimeout))
	defer conn.SetDeadline(time.Time{})

	payload, err := codec.Marshal(hello{ID: local})
	if err != nil {
		return "", err
	}
	if err := wire.WriteFrame(conn, wire.Frame{Type: wire.FrameHello, Payload: payload}, wire.Options{}); err != nil {
		return "", err
	}

	frame, err := wire.ReadFrame(conn)
	if err != nil {
		return "", err
	}
	switch frame.Type {
	case wire.FrameWelcome:
		var greeting welcome
		if err := codec.Unmarshal(frame.Payload, &greeting); err != nil {
			return "", fmt.Errorf("decoding welcome: %w", err)
		}
		return greeting.Host, nil
	case wire.FrameReject:
		var refusal reject
		if err := codec.Unmarshal(frame.Payload, &refusal); err != nil {
			return "", fmt.Errorf("%w (undecodable reason: %v)", ErrRejected, err)
		}
		return "", fmt.Errorf("%w: %s", ErrRejected, refusal.Reason)
	}
	return "", fmt.Errorf("expected welcome, got frame type 0x%02x", frame.Type)
}
