// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/tandem/cmd/tandem/cli"
	"github.com/bureau-foundation/tandem/lib/colorstore"
)

func colorsCommand() *cli.Command {
	var (
		opts       options
		database   string
		outputJSON bool
	)
	return &cli.Command{
		Name:    "colors",
		Summary: "List stored color assignments",
		Description: `List the color assignments the host has stored.

Assignments are keyed by the set of participants they were made for,
shown as a short prefix of the set key.`,
		Flags: func() *pflag.FlagSet {
			fs := pflag.NewFlagSet("colors", pflag.ContinueOnError)
			opts.register(fs)
			fs.StringVar(&database, "db", "", "color database (overrides storage.color_database)")
			fs.BoolVar(&outputJSON, "json", false, "output as JSON")
			return fs
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument: %s", args[0])
			}
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if database == "" {
				database = cfg.Storage.ColorDatabase
			}
			if _, err := os.Stat(database); err != nil {
				return fmt.Errorf("color database: %w", err)
			}
			logger, err := commandLogger(cfg, "colors")
			if err != nil {
				return err
			}
			store, err := colorstore.Open(database, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			rows, err := store.List(context.Background())
			if err != nil {
				return err
			}
			if outputJSON {
				return cli.WriteJSON(os.Stdout, rows)
			}
			printColors(os.Stdout, rows)
			return nil
		},
	}
}

func printColors(w io.Writer, rows []colorstore.Row) {
	if len(rows) == 0 {
		fmt.Fprintln(w, "no stored assignments")
		return
	}
	tw := tabwriter.NewWriter(w, 2, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SET\tPARTICIPANT\tCOLOR\tPREFERRED")
	for _, row := range rows {
		preferred := "-"
		if row.Preferred >= 0 {
			preferred = fmt.Sprint(row.Preferred)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s %d\t%s\n",
			shortKey(row.SetKey), row.Participant, colorStyle(row.Color).Render("●"), row.Color, preferred)
	}
	tw.Flush()
}

func shortKey(key string) string {
	if len(key) > 12 {
		return key[:12]
	}
	return key
}
