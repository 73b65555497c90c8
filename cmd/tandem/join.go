// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/tandem/cmd/tandem/cli"
	"github.com/bureau-foundation/tandem/lib/membership"
	"github.com/bureau-foundation/tandem/lib/ref"
	"github.com/bureau-foundation/tandem/session"
	"github.com/bureau-foundation/tandem/transport"
)

// joinTimeout bounds the wait for the host's copy of the document.
const joinTimeout = 30 * time.Second

func joinCommand() *cli.Command {
	var (
		opts    options
		connect string
	)
	return &cli.Command{
		Name:    "join",
		Summary: "Join a hosted session",
		Description: `Join the session hosted at an address.

The command connects, waits until the host has admitted it and sent the
current document, then asks the host for the preferred color and starts
reading lines.`,
		Flags: func() *pflag.FlagSet {
			fs := pflag.NewFlagSet("join", pflag.ContinueOnError)
			opts.register(fs)
			fs.StringVar(&connect, "connect", "", "host address (overrides transport.connect)")
			return fs
		},
		Examples: []cli.Example{
			{Description: "Join a local host as bob, asking for color 3", Command: "tandem join --id bob --color 3"},
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument: %s", args[0])
			}
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if connect != "" {
				cfg.Transport.Connect = connect
			}
			local, err := identity(cfg)
			if err != nil {
				return err
			}
			logger, err := commandLogger(cfg, "join")
			if err != nil {
				return err
			}
			wireOpts, err := wireOptions(cfg)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			ctx, cancel := context.WithCancelCause(ctx)
			defer cancel(nil)

			conn, host, err := transport.Dial(ctx, cfg.Transport.Connect, local)
			if err != nil {
				return fmt.Errorf("connecting to %s: %w", cfg.Transport.Connect, err)
			}
			logger = logger.With("host", host)

			stream := transport.NewStream(transport.StreamConfig{
				Local:   local,
				Options: wireOpts,
				OnDisconnect: func(peer ref.UserID, err error) {
					if peer == host {
						cancel(fmt.Errorf("lost connection to host %s: %w", host, err))
					}
				},
				Logger: logger.With("component", "transport"),
			})
			defer stream.Shutdown()

			// The host assigns colors; the preference is sent once the
			// host has admitted us.
			preferred := cfg.Identity.PreferredColor
			cfg.Identity.PreferredColor = membership.UnknownColor
			config, err := sessionConfig(cfg, local, host, stream, nil, logger)
			if err != nil {
				conn.Close()
				return err
			}
			s, err := session.New(config)
			if err != nil {
				conn.Close()
				return err
			}

			doc := newDocument(sharedResource, local)
			roster := &rosterPrinter{session: s, out: os.Stdout}
			doc.onRemoteEdit = func(author ref.UserID, _ string) {
				roster.mu.Lock()
				defer roster.mu.Unlock()
				fmt.Fprintf(os.Stdout, "%s edited notes.txt\n", colorStyle(participantColor(s, author)).Render(string(author)))
			}
			s.RegisterConsumer(doc)
			s.AddListener(roster)

			if err := s.Start(ctx); err != nil {
				conn.Close()
				return err
			}
			defer s.Stop()
			stream.Handle(s.Receive)
			if err := stream.Attach(host, conn); err != nil {
				conn.Close()
				return err
			}

			waitCtx, waitCancel := context.WithTimeout(ctx, joinTimeout)
			defer waitCancel()
			select {
			case <-doc.Ready():
			case <-waitCtx.Done():
				if ctx.Err() != nil {
					return disconnected(ctx)
				}
				return fmt.Errorf("host %s did not send the document within %s", host, joinTimeout)
			}

			if preferred != membership.UnknownColor {
				if err := s.ChangeColor(ctx, preferred); err != nil {
					return err
				}
			}
			fmt.Fprintf(os.Stdout, "joined %s as %s\n", host, local)
			fmt.Fprintln(os.Stdout, consoleHelp)
			fmt.Fprint(os.Stdout, doc.Text())

			c := &console{session: s, doc: doc, roster: roster, out: os.Stdout}
			if err := c.run(ctx, os.Stdin); err != nil {
				return err
			}
			return disconnected(ctx)
		},
	}
}

func participantColor(s *session.Session, id ref.UserID) int {
	if p := s.Participant(id); p != nil {
		return p.Color()
	}
	return membership.UnknownColor
}

// disconnected returns why ctx ended, unless it ended because the user
// interrupted the command.
func disconnected(ctx context.Context) error {
	if ctx.Err() == nil {
		return nil
	}
	if cause := context.Cause(ctx); !errors.Is(cause, context.Canceled) {
		return cause
	}
	return nil
}
