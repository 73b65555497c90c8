// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/bureau-foundation/tandem/lib/membership"
	"github.com/bureau-foundation/tandem/lib/ref"
	"github.com/bureau-foundation/tandem/session"
)

const consoleHelp = `Lines are appended to notes.txt. Commands:
  /who              show participants
  /text             print the document
  /color N          ask for color N (-1 for none)
  /kick ID          remove a participant (host)
  /readonly ID      revoke write access (host)
  /write ID         grant write access (host)
  /quit             leave the session`

// errQuit ends the console.
var errQuit = errors.New("quit")

// console reads lines from a participant's terminal and turns them into
// edits and session commands.
type console struct {
	session *session.Session
	doc     *document
	roster  *rosterPrinter
	out     io.Writer
}

// run processes lines from in until it ends, /quit, or ctx is done.
func (c *console) run(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			err := c.handle(ctx, line)
			if errors.Is(err, errQuit) {
				return nil
			}
			if err != nil {
				fmt.Fprintf(c.out, "error: %v\n", err)
			}
		}
	}
}

func (c *console) handle(ctx context.Context, line string) error {
	if !strings.HasPrefix(line, "/") {
		if !c.session.Local().HasWriteAccess() {
			return errors.New("you have read-only access")
		}
		return c.doc.appendLine(ctx, c.session, line)
	}

	fields := strings.Fields(line)
	command, args := fields[0], fields[1:]
	switch command {
	case "/quit":
		return errQuit
	case "/help":
		fmt.Fprintln(c.out, consoleHelp)
		return nil
	case "/who":
		c.roster.mu.Lock()
		defer c.roster.mu.Unlock()
		c.roster.print()
		return nil
	case "/text":
		fmt.Fprint(c.out, c.doc.Text())
		return nil
	case "/color":
		if len(args) != 1 {
			return errors.New("usage: /color N")
		}
		preferred, err := strconv.Atoi(args[0])
		if err != nil || preferred < membership.UnknownColor {
			return fmt.Errorf("invalid color %q", args[0])
		}
		return c.session.ChangeColor(ctx, preferred)
	case "/kick", "/readonly", "/write":
		if len(args) != 1 {
			return fmt.Errorf("usage: %s ID", command)
		}
		id, err := ref.ParseUserID(args[0])
		if err != nil {
			return err
		}
		switch command {
		case "/kick":
			return c.session.Kick(ctx, id)
		case "/readonly":
			return c.session.ChangePermission(ctx, id, membership.ReadOnly)
		default:
			return c.session.ChangePermission(ctx, id, membership.Write)
		}
	}
	return fmt.Errorf("unknown command %s (try /help)", command)
}
