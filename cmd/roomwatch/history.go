package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/DoyleJ11/truthdare-live/internal/config"
	"github.com/DoyleJ11/truthdare-live/internal/journal"
	"github.com/DoyleJ11/truthdare-live/internal/room"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var errNoJournal = errors.New("--journal-dsn is required")

func newHistoryCmd(cfg *config.Config, v *viper.Viper) *cobra.Command {
	var (
		code, dsn string
		limit     int
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print the journaled snapshots of a room, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := room.NormalizeCode(code)
			if err != nil {
				return err
			}
			if dsn == "" {
				return errNoJournal
			}
			log, err := newLogger(cfg.Verbose)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			j, err := journal.Open(dsn, log)
			if err != nil {
				return err
			}
			defer func() { _ = j.Close() }()

			entries, err := j.History(cmd.Context(), c, limit)
			if err != nil {
				return err
			}
			printHistory(cmd.OutOrStdout(), c, entries)
			return nil
		},
	}
	fs := cmd.Flags()
	fs.StringVarP(&code, "room", "r", "", "room code (env: TRUTHDARE_ROOM)")
	fs.StringVar(&dsn, "journal-dsn", "", "postgres DSN the watcher journaled into (env: TRUTHDARE_JOURNAL_DSN)")
	fs.IntVar(&limit, "limit", 50, "maximum entries, 0 for all")
	bindEnv(v, fs)
	return cmd
}

func printHistory(out io.Writer, code string, entries []journal.Entry) {
	if len(entries) == 0 {
		fmt.Fprintf(out, "no snapshots journaled for room %s\n", code)
		return
	}
	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "%s v%d %s %s, %d players", e.RecordedAt.Format(time.RFC3339), e.Version, e.Status, e.GameMode, e.Players)
		if e.CurrentPlayerID != "" {
			fmt.Fprintf(&b, ", turn: %s", e.CurrentPlayerID)
		}
		if e.QuestionType != "" {
			fmt.Fprintf(&b, ", %s: %q", e.QuestionType, e.QuestionText)
		}
		b.WriteString("\n")
	}
	_, _ = io.WriteString(out, b.String())
}
