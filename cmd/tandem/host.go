// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/tandem/cmd/tandem/cli"
	"github.com/bureau-foundation/tandem/lib/colorstore"
	"github.com/bureau-foundation/tandem/lib/membership"
	"github.com/bureau-foundation/tandem/lib/ref"
	"github.com/bureau-foundation/tandem/lib/refpoint"
	"github.com/bureau-foundation/tandem/session"
	"github.com/bureau-foundation/tandem/transport"
)

func hostCommand() *cli.Command {
	var (
		opts   options
		listen string
	)
	return &cli.Command{
		Name:    "host",
		Summary: "Host a session and accept participants",
		Description: `Host a co-editing session.

The host listens for participants, admits each one into the session,
and routes every activity between them. Color assignments are kept in
the color database so a group that meets again gets the same colors.`,
		Flags: func() *pflag.FlagSet {
			fs := pflag.NewFlagSet("host", pflag.ContinueOnError)
			opts.register(fs)
			fs.StringVar(&listen, "listen", "", "address to accept participants on (overrides transport.listen)")
			return fs
		},
		Examples: []cli.Example{
			{Description: "Host as alice on the default port", Command: "tandem host --id alice"},
			{Description: "Host on every interface with a config file", Command: "tandem host -c tandem.yaml --listen 0.0.0.0:7464"},
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument: %s", args[0])
			}
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Transport.Listen = listen
			}
			local, err := identity(cfg)
			if err != nil {
				return err
			}
			logger, err := commandLogger(cfg, "host")
			if err != nil {
				return err
			}
			wireOpts, err := wireOptions(cfg)
			if err != nil {
				return err
			}
			if err := cfg.EnsurePaths(); err != nil {
				return err
			}
			store, err := colorstore.Open(cfg.Storage.ColorDatabase, logger)
			if err != nil {
				return fmt.Errorf("opening color database: %w", err)
			}
			defer store.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			var s *session.Session
			stream := transport.NewStream(transport.StreamConfig{
				Local:   local,
				Options: wireOpts,
				OnDisconnect: func(peer ref.UserID, err error) {
					logger.Info("participant disconnected", "participant", peer, "error", err)
					go func() {
						if err := s.RemoveParticipant(ctx, peer); err != nil {
							logger.Warn("removing disconnected participant", "participant", peer, "error", err)
						}
					}()
				},
				Logger: logger.With("component", "transport"),
			})
			defer stream.Shutdown()

			config, err := sessionConfig(cfg, local, local, stream, store, logger)
			if err != nil {
				return err
			}
			s, err = session.New(config)
			if err != nil {
				return err
			}

			doc := newDocument(sharedResource, local)
			roster := &rosterPrinter{session: s, out: os.Stdout}
			doc.onRemoteEdit = func(author ref.UserID, _ string) {
				logger.Debug("remote edit applied", "author", author)
			}
			s.RegisterConsumer(doc)
			s.AddListener(roster)

			if err := s.Start(ctx); err != nil {
				return err
			}
			defer s.Stop()
			stream.Handle(s.Receive)

			if err := s.ShareGroup(sharedGroup, refpoint.Handle("/"+string(sharedGroup))); err != nil {
				return err
			}
			s.Documents().Seed(sharedResource, "")
			doc.load("")

			listener, err := transport.Listen(cfg.Transport.Listen, stream, func(ctx context.Context, id ref.UserID) error {
				return admit(ctx, s, id)
			}, logger.With("component", "listener"))
			if err != nil {
				return err
			}
			defer listener.Close()
			go func() {
				if err := listener.Serve(ctx); err != nil {
					logger.Error("listener stopped", "error", err)
				}
			}()

			fmt.Fprintf(os.Stdout, "hosting as %s on %s\n", local, listener.Address())
			fmt.Fprintln(os.Stdout, consoleHelp)
			roster.print()

			c := &console{session: s, doc: doc, roster: roster, out: os.Stdout}
			if err := c.run(ctx, os.Stdin); err != nil {
				return err
			}
			logger.Info("host leaving", "participants", len(s.Participants()))
			return nil
		},
	}
}

// admit adds a participant that completed the handshake and hands it
// the shared documents.
func admit(ctx context.Context, s *session.Session, id ref.UserID) error {
	p := membership.NewParticipant(id, false, membership.Write)
	if err := s.AddParticipant(ctx, p); err != nil {
		return err
	}
	return s.MarkHasAllGroups(ctx, id)
}
