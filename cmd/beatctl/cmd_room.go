package main

import (
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/DoyleJ11/beat-escape-backend/internal/pending"
	"github.com/DoyleJ11/beat-escape-backend/internal/room"
	"github.com/DoyleJ11/beat-escape-backend/internal/syncengine"
)

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func newCreateCmd(g *globals, stdout io.Writer) *cobra.Command {
	var mode, theme string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register a new room and print its code",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := room.ParseMode(mode)
			if err != nil {
				return fmt.Errorf("%w %q", err, mode)
			}
			e, err := g.open(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			ctx, cancel := g.context(cmd.Context())
			defer cancel()

			code, err := e.client.CreateRoom(ctx, m, theme)
			if err != nil {
				return err
			}
			fmt.Fprintln(stdout, code) //nolint:errcheck // best-effort stdout
			return nil
		},
	}
	cmd.Flags().StringVar(&mode, "mode", string(room.ModePartner), "solo, partner or trio")
	cmd.Flags().StringVar(&theme, "theme", "", "room theme shown to players")
	return cmd
}

func newJoinCmd(g *globals, stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "join CODE",
		Short: "Claim a joiner slot in a room",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := g.open(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			ctx, cancel := g.context(cmd.Context())
			defer cancel()

			code := normalizeCode(args[0])
			r, err := e.client.GetRoom(ctx, code)
			if err != nil {
				return err
			}
			player, err := e.client.ClaimSlot(ctx, code, e.cfg.ClientID)
			if err != nil {
				return err
			}
			fmt.Fprintf(stdout, "player %d: locks %s\n", player, joinInts(room.AssignLocks(r.Mode, player))) //nolint:errcheck // best-effort stdout
			return nil
		},
	}
}

func newShowCmd(g *globals, stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "show CODE",
		Short: "Print a room, marking locks still queued on this device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := g.open(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			ctx, cancel := g.context(cmd.Context())
			defer cancel()

			code := normalizeCode(args[0])
			r, err := e.client.GetRoom(ctx, code)
			if err != nil {
				return err
			}
			queued, err := e.queue.ListAll()
			if err != nil {
				return err
			}
			printRoom(stdout, r, queued)
			return nil
		},
	}
}

func printRoom(w io.Writer, r room.Room, queued map[string]pending.Edit) {
	fmt.Fprintf(w, "room %s (%s) %s, version %d\n", r.Code, r.Mode, r.Status, r.Version) //nolint:errcheck // best-effort stdout
	if r.Theme != "" {
		fmt.Fprintf(w, "theme: %s\n", r.Theme) //nolint:errcheck // best-effort stdout
	}
	fmt.Fprintf(w, "ready: %d of %d\n", len(r.ReadyPlayers), r.Mode.RequiredPlayers()) //nolint:errcheck // best-effort stdout

	for lock := 1; lock <= r.Mode.TotalLocks(); lock++ {
		owner, _ := room.LockOwner(r.Mode, lock)
		mark := " "
		grid := "-"
		if p, ok := r.Patterns[lock]; ok {
			grid = formatGrid(p.Grid)
		}
		if edit, ok := queued[pending.Key(r.Code, lock)]; ok {
			mark = "*"
			grid = formatGrid(edit.Grid)
		}
		fmt.Fprintf(w, "%s lock %2d  p%d  %s\n", mark, lock, owner, grid) //nolint:errcheck // best-effort stdout
	}
}

func newReadyCmd(g *globals, stdout io.Writer) *cobra.Command {
	var player int
	cmd := &cobra.Command{
		Use:   "ready CODE",
		Short: "Sync this device's edits, then mark the player ready",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := g.open(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			ctx, cancel := g.context(cmd.Context())
			defer cancel()

			code := normalizeCode(args[0])
			r, err := e.client.GetRoom(ctx, code)
			if err != nil {
				return err
			}
			if !r.Mode.ValidPlayer(player) {
				return fmt.Errorf("%w: %d in a %s room", room.ErrInvalidPlayer, player, r.Mode)
			}

			eng := syncengine.New(e.client, e.queue, syncengine.Options{
				RoomCode:    code,
				PlayerIndex: player,
				Initial:     r,
				Logger:      e.log,
			})
			eng.Start(ctx)
			defer eng.Stop()

			if err := syncengine.RoomFailures(eng.Flush(ctx), code); err != nil {
				return fmt.Errorf("syncing edits before ready: %w", err)
			}
			if !eng.Snapshot().OwnedLocksComplete(player) {
				return fmt.Errorf("player %d has not finished locks %s", player, joinInts(room.AssignLocks(r.Mode, player)))
			}
			if err := eng.MarkReady(ctx); err != nil {
				return err
			}

			after := eng.Snapshot()
			if after.Sealed() {
				fmt.Fprintf(stdout, "room %s ready\n", code) //nolint:errcheck // best-effort stdout
				return nil
			}
			fmt.Fprintf(stdout, "player %d ready, %d of %d\n", player, len(after.ReadyPlayers), r.Mode.RequiredPlayers()) //nolint:errcheck // best-effort stdout
			return nil
		},
	}
	cmd.Flags().IntVar(&player, "player", 0, "player index")
	return cmd
}

func newWatchCmd(g *globals, stdout io.Writer) *cobra.Command {
	var wait, interval time.Duration
	cmd := &cobra.Command{
		Use:   "watch CODE",
		Short: "Poll a room and print each change until it is ready",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := g.open(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			code := normalizeCode(args[0])

			done := make(chan room.Room, 1)
			last := -1
			eng := syncengine.New(e.client, e.queue, syncengine.Options{
				RoomCode:     code,
				PollInterval: interval,
				Logger:       e.log,
				OnUpdate: func(r room.Room) {
					if r.Mode == "" || r.Version == last {
						return
					}
					last = r.Version
					fmt.Fprintf(stdout, "v%d %s: %d of %d locks, %d ready\n", //nolint:errcheck // best-effort stdout
						r.Version, r.Status, len(r.CompletedLocks()), r.Mode.TotalLocks(), len(r.ReadyPlayers))
				},
				OnComplete: func(r room.Room) { done <- r },
			})
			eng.Start(cmd.Context())
			defer eng.Stop()

			select {
			case r := <-done:
				fmt.Fprintf(stdout, "room %s ready with %d patterns\n", code, len(r.Patterns)) //nolint:errcheck // best-effort stdout
				return nil
			case <-time.After(wait):
				return fmt.Errorf("room %s not ready after %s", code, wait)
			}
		},
	}
	cmd.Flags().DurationVar(&wait, "wait", 5*time.Minute, "give up after this long")
	cmd.Flags().DurationVar(&interval, "interval", syncengine.DefaultPollInterval, "poll interval")
	return cmd
}

func joinInts(xs []int) string {
	xs = slices.Clone(xs)
	slices.Sort(xs)
	parts := make([]string, len(xs))
	for i, x := range xs {
		parts[i] = fmt.Sprint(x)
	}
	return strings.Join(parts, ",")
}
