// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"os"
	"sync"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/tandem/cmd/tandem/cli"
	"github.com/bureau-foundation/tandem/lib/color"
	"github.com/bureau-foundation/tandem/lib/config"
	"github.com/bureau-foundation/tandem/lib/membership"
	"github.com/bureau-foundation/tandem/lib/ref"
	"github.com/bureau-foundation/tandem/lib/refpoint"
	"github.com/bureau-foundation/tandem/lib/textop"
	"github.com/bureau-foundation/tandem/session"
	"github.com/bureau-foundation/tandem/transport"
)

func simulateCommand() *cli.Command {
	var (
		opts    options
		sim     simulation
		timeout time.Duration
	)
	return &cli.Command{
		Name:    "simulate",
		Summary: "Run a whole session in memory and check convergence",
		Description: `Simulate a session in one process.

A host and participants-1 guests are connected through an in-memory hub.
Every participant makes random concurrent edits to the shared document;
the command then waits for all copies to agree, prints the document and
the roster, and exits with status 1 if they never converge.`,
		Flags: func() *pflag.FlagSet {
			fs := pflag.NewFlagSet("simulate", pflag.ContinueOnError)
			opts.register(fs)
			fs.IntVarP(&sim.participants, "participants", "n", 4, "participants including the host")
			fs.IntVarP(&sim.edits, "edits", "e", 20, "edits per participant")
			fs.Uint64Var(&sim.seed, "seed", 1, "random seed for edit positions")
			fs.DurationVar(&timeout, "timeout", 30*time.Second, "how long to wait for convergence")
			return fs
		},
		Examples: []cli.Example{
			{Description: "Ten participants in inline dispatch mode", Command: "tandem simulate -n 10 --dispatch inline"},
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument: %s", args[0])
			}
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if cfg.Identity.ID == "" {
				cfg.Identity.ID = "host"
			}
			logger, err := commandLogger(cfg, "simulate")
			if err != nil {
				return err
			}
			sim.config = cfg
			sim.logger = logger

			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			result, err := sim.run(ctx)
			if err != nil {
				return err
			}
			result.print(os.Stdout)
			if !result.converged {
				return &cli.ExitError{Code: 1}
			}
			return nil
		},
	}
}

// simulation is an in-memory session with one host and a number of
// guests that all edit the shared document at once.
type simulation struct {
	config       *config.Config
	participants int
	edits        int
	seed         uint64
	logger       *slog.Logger
}

type simulant struct {
	id       ref.UserID
	session  *session.Session
	endpoint *transport.Endpoint
	doc      *document
}

type simulationResult struct {
	host         ref.UserID
	text         string
	converged    bool
	copies       map[ref.UserID]string
	participants []*membership.Participant
}

// errNotConverged is returned by waitConverged when ctx ends first.
var errNotConverged = errors.New("documents did not converge")

func (sim *simulation) run(ctx context.Context) (simulationResult, error) {
	logger := sim.logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if sim.participants < 1 {
		return simulationResult{}, fmt.Errorf("a simulation needs at least the host, got %d participants", sim.participants)
	}
	hostID, err := identity(sim.config)
	if err != nil {
		return simulationResult{}, err
	}

	hub := transport.NewHub(logger.With("component", "hub"))
	var everyone []*simulant
	defer func() {
		for i := len(everyone) - 1; i >= 0; i-- {
			everyone[i].session.Stop()
			everyone[i].endpoint.Shutdown()
		}
	}()

	// Colors are kept in memory: a simulation must not disturb the
	// stored assignments of real sessions.
	host, err := sim.start(hub, hostID, hostID, sim.config.Identity.PreferredColor, color.NewMemoryStore(), logger)
	if err != nil {
		return simulationResult{}, err
	}
	everyone = append(everyone, host)
	if err := host.session.ShareGroup(sharedGroup, refpoint.Handle("/"+string(sharedGroup))); err != nil {
		return simulationResult{}, err
	}
	host.session.Documents().Seed(sharedResource, "")
	host.doc.load("")

	for i := range sim.participants - 1 {
		id := ref.UserID(fmt.Sprintf("guest-%d", i+1))
		guest, err := sim.start(hub, id, hostID, membership.UnknownColor, nil, logger)
		if err != nil {
			return simulationResult{}, err
		}
		everyone = append(everyone, guest)

		// Guests contend for a handful of colors.
		p := membership.NewParticipant(id, false, membership.Write)
		p.SetPreferredColor(i % 3)
		if err := host.session.AddParticipant(ctx, p); err != nil {
			return simulationResult{}, fmt.Errorf("admitting %s: %w", id, err)
		}
		if err := host.session.MarkHasAllGroups(ctx, id); err != nil {
			return simulationResult{}, fmt.Errorf("sharing documents with %s: %w", id, err)
		}
	}
	for _, guest := range everyone[1:] {
		select {
		case <-guest.doc.Ready():
		case <-ctx.Done():
			return simulationResult{}, fmt.Errorf("%s never received the document: %w", guest.id, ctx.Err())
		}
	}

	var (
		editors sync.WaitGroup
		errMu   sync.Mutex
		errs    []error
	)
	for index, s := range everyone {
		editors.Add(1)
		go func() {
			defer editors.Done()
			random := rand.New(rand.NewPCG(sim.seed, uint64(index)))
			for edit := range sim.edits {
				value := fmt.Sprintf("<%s:%d>", s.id, edit)
				err := s.doc.edit(ctx, s.session, func(current string) textop.Op {
					return randomOp(random, current, value)
				})
				if err != nil {
					errMu.Lock()
					errs = append(errs, fmt.Errorf("%s edit %d: %w", s.id, edit, err))
					errMu.Unlock()
					return
				}
			}
		}()
	}
	editors.Wait()
	if err := errors.Join(errs...); err != nil {
		return simulationResult{}, err
	}

	converged := waitConverged(ctx, everyone) == nil
	result := simulationResult{
		host:         hostID,
		converged:    converged,
		copies:       make(map[ref.UserID]string, len(everyone)),
		participants: host.session.Participants(),
	}
	result.text, _ = host.session.Documents().Text(sharedResource)
	for _, s := range everyone {
		result.copies[s.id] = s.doc.Text()
	}
	trimmed, kept := host.session.Documents().Retained(sharedResource)
	logger.Info("simulation finished",
		"participants", len(everyone),
		"edits", len(everyone)*sim.edits,
		"converged", converged,
		"history_trimmed", trimmed,
		"history_kept", kept,
	)
	return result, nil
}

// start creates, starts and connects one simulated participant.
func (sim *simulation) start(hub *transport.Hub, id, host ref.UserID, preferred int, store color.Store, logger *slog.Logger) (*simulant, error) {
	endpoint, err := hub.Endpoint(id)
	if err != nil {
		return nil, err
	}
	cfg := *sim.config
	cfg.Identity.PreferredColor = preferred
	config, err := sessionConfig(&cfg, id, host, endpoint, store, logger)
	if err != nil {
		endpoint.Shutdown()
		return nil, err
	}
	s, err := session.New(config)
	if err != nil {
		endpoint.Shutdown()
		return nil, err
	}
	doc := newDocument(sharedResource, id)
	s.RegisterConsumer(doc)
	if err := s.Start(context.Background()); err != nil {
		endpoint.Shutdown()
		return nil, err
	}
	endpoint.Handle(s.Receive)
	return &simulant{id: id, session: s, endpoint: endpoint, doc: doc}, nil
}

// randomOp inserts value at a random position or, one time in four,
// deletes a short random span.
func randomOp(random *rand.Rand, current, value string) textop.Op {
	if len(current) > 0 && random.IntN(4) == 0 {
		pos := random.IntN(len(current))
		return textop.Delete{Pos: pos, Len: 1 + random.IntN(min(3, len(current)-pos))}
	}
	return textop.Insert{Pos: random.IntN(len(current) + 1), Value: value}
}

// waitConverged polls until every participant has no edit in flight and
// holds the host's text.
func waitConverged(ctx context.Context, everyone []*simulant) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		if converged(everyone) {
			return nil
		}
		select {
		case <-ctx.Done():
			return errNotConverged
		case <-ticker.C:
		}
	}
}

func converged(everyone []*simulant) bool {
	want, _ := everyone[0].session.Documents().Text(sharedResource)
	for _, s := range everyone {
		outstanding, buffered := s.session.Documents().Pending(sharedResource)
		if outstanding != 0 || buffered != 0 || s.doc.Text() != want {
			return false
		}
	}
	return true
}

func (r simulationResult) print(w io.Writer) {
	fmt.Fprintln(w, headerStyle.Render("notes.txt"))
	fmt.Fprintln(w, r.text)
	fmt.Fprintln(w, renderRoster(r.participants, r.host))
	if r.converged {
		fmt.Fprintf(w, "%d copies converged (%d bytes)\n", len(r.copies), len(r.text))
		return
	}
	fmt.Fprintln(w, "copies diverged:")
	for _, p := range r.participants {
		text := r.copies[p.ID()]
		marker := "="
		if text != r.text {
			marker = "!"
		}
		fmt.Fprintf(w, "  %s %s %q\n", marker, p.ID(), text)
	}
}
