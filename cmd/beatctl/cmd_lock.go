package main

import (
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/DoyleJ11/beat-escape-backend/internal/puzzle"
	"github.com/DoyleJ11/beat-escape-backend/internal/room"
	"github.com/DoyleJ11/beat-escape-backend/internal/syncengine"
)

func newSaveCmd(g *globals, stdout io.Writer) *cobra.Command {
	var player int
	var offline bool
	cmd := &cobra.Command{
		Use:   "save CODE LOCK PATTERN",
		Short: "Author one lock, e.g. save Q7K3 1 kick=x.x.,hihat=xx..",
		Long: `Author one lock. PATTERN has one row per instrument, x for on and . for off:
kick=x.x.,snare=.x.x,hihat=xxxx. The edit is queued on this device first and
synced right away unless --offline is set; anything that fails to sync stays
queued until the next flush.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			code := normalizeCode(args[0])
			lock, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("%w: %q", room.ErrInvalidLock, args[1])
			}
			grid, err := parseGrid(args[2])
			if err != nil {
				return err
			}
			if err := grid.Validate(); err != nil {
				return fmt.Errorf("%w: kick only lands on beats 1 and 3, snare on 2 and 4", err)
			}
			if !puzzle.ValidatePattern(grid, room.MinNotes) {
				return fmt.Errorf("pattern has %d notes, needs at least %d", puzzle.CountActiveNotes(grid), room.MinNotes)
			}

			e, err := g.open(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			ctx, cancel := g.context(cmd.Context())
			defer cancel()

			if !offline {
				r, err := e.client.GetRoom(ctx, code)
				switch {
				case errors.Is(err, room.ErrRoomNotFound):
					return err
				case err != nil:
					e.log.Warn("room unreachable, queueing locally", zap.Error(err))
					offline = true
				case !room.OwnsLock(r.Mode, player, lock):
					return fmt.Errorf("%w: lock %d is not player %d's", room.ErrNotLockOwner, lock, player)
				}
			}

			// The engine writes through Flush below, not in the background.
			eng := syncengine.New(e.client, e.queue, syncengine.Options{
				RoomCode:    code,
				PlayerIndex: player,
				Offline:     true,
				Logger:      e.log,
			})
			eng.Start(ctx)
			defer eng.Stop()

			if err := eng.SaveLock(lock, grid); err != nil {
				return err
			}
			if offline {
				fmt.Fprintf(stdout, "queued lock %d for %s\n", lock, code) //nolint:errcheck // best-effort stdout
				return nil
			}

			if err := syncengine.RoomFailures(eng.Flush(ctx), code); err != nil {
				if rejected(err) {
					return err
				}
				fmt.Fprintf(stdout, "saved lock %d locally, will sync later\n", lock) //nolint:errcheck // best-effort stdout
				e.log.Warn("sync failed", zap.Error(err))
				return nil
			}
			fmt.Fprintf(stdout, "saved lock %d\n", lock) //nolint:errcheck // best-effort stdout
			return nil
		},
	}
	cmd.Flags().IntVar(&player, "player", 0, "player index")
	cmd.Flags().BoolVar(&offline, "offline", false, "queue only, do not contact the server")
	return cmd
}

// rejected reports whether the server refused a write outright, as opposed to
// a failure that a later flush can fix.
func rejected(err error) bool {
	for _, e := range multierr.Errors(err) {
		if syncengine.Rejected(e) {
			return true
		}
	}
	return false
}

func newFlushCmd(g *globals, stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "flush",
		Short: "Send every queued edit on this device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := g.open(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			before, err := e.queue.ListAll()
			if err != nil {
				return err
			}
			if len(before) == 0 {
				fmt.Fprintln(stdout, "nothing to flush") //nolint:errcheck // best-effort stdout
				return nil
			}

			ctx, cancel := g.context(cmd.Context())
			defer cancel()

			// Flush drains the whole queue, whichever room the engine follows.
			var code string
			for _, edit := range before {
				code = edit.RoomCode
				break
			}
			eng := syncengine.New(e.client, e.queue, syncengine.Options{RoomCode: code, Offline: true, Logger: e.log})
			eng.Start(ctx)
			defer eng.Stop()

			flushErr := eng.Flush(ctx)
			after, err := e.queue.ListAll()
			if err != nil {
				return err
			}
			fmt.Fprintf(stdout, "flushed %d, %d still queued\n", len(before)-len(after), len(after)) //nolint:errcheck // best-effort stdout
			for _, err := range multierr.Errors(flushErr) {
				fmt.Fprintf(cmd.ErrOrStderr(), "  %v\n", err) //nolint:errcheck // best-effort stderr
			}
			if flushErr != nil {
				return errExit
			}
			return nil
		},
	}
}

func newPendingCmd(g *globals, stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "List edits queued on this device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := g.open(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			all, err := e.queue.ListAll()
			if err != nil {
				return err
			}
			keys := make([]string, 0, len(all))
			for key := range all {
				keys = append(keys, key)
			}
			slices.Sort(keys)
			for _, key := range keys {
				edit := all[key]
				fmt.Fprintf(stdout, "%s  p%d  %s  %s\n", key, edit.PlayerIndex, formatGrid(edit.Grid), edit.Timestamp.Format("15:04:05")) //nolint:errcheck // best-effort stdout
			}
			return nil
		},
	}
}
