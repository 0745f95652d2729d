package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/CrowderSoup/kanban-sync/board"
	"github.com/CrowderSoup/kanban-sync/session"
)

func newBoardsCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "boards",
		Short: "List the boards you belong to",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := app.client(cmd.Context())
			if err != nil {
				return err
			}
			boards, err := client.Boards(cmd.Context())
			if err != nil {
				return explain(err)
			}
			fmt.Fprint(cmd.OutOrStdout(), renderBoards(boards, time.Now()))
			return nil
		},
	}
}

func newCreateBoardCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "create-board <title>",
		Short: "Create a board with To-Do, Doing and Done lists",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := app.client(cmd.Context())
			if err != nil {
				return err
			}
			b, err := client.CreateBoard(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return explain(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created board %s (%s)\n", b.Title, b.ID)
			return nil
		},
	}
}

func newRenameBoardCmd(app *App) *cobra.Command {
	var background string

	cmd := &cobra.Command{
		Use:   "rename-board <board> [title]",
		Short: "Change a board's title or background",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var p board.BoardPatch
			if len(args) > 1 {
				title := strings.Join(args[1:], " ")
				p.Title = &title
			}
			if cmd.Flags().Changed("background") {
				p.Background = &background
			}
			if p.IsEmpty() {
				return fmt.Errorf("nothing to change; pass a title or --background")
			}
			return app.mutate(cmd, args[0], func(s *session.Session, _ board.Board) (string, error) {
				return "Board updated", s.Engine().UpdateBoard(p).Wait(cmd.Context())
			})
		},
	}
	cmd.Flags().StringVar(&background, "background", "", "Background color or image")
	return cmd
}

func newDeleteBoardCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "delete-board <board>",
		Short: "Delete a board you own",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := app.client(cmd.Context())
			if err != nil {
				return err
			}
			if err := client.DeleteBoard(cmd.Context(), args[0]); err != nil {
				return explain(err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Board deleted")
			return nil
		},
	}
}

func newJoinCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "join <board>",
		Short: "Join a board shared with you by link",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := app.client(cmd.Context())
			if err != nil {
				return err
			}
			if err := client.JoinBoard(cmd.Context(), args[0]); err != nil {
				return explain(err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Joined board")
			return nil
		},
	}
}

func newShowCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "show <board>",
		Short: "Print a board",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := app.client(cmd.Context())
			if err != nil {
				return err
			}
			b, err := client.Board(cmd.Context(), args[0])
			if err != nil {
				return explain(err)
			}
			fmt.Fprint(cmd.OutOrStdout(), renderBoard(b, time.Now()))
			return nil
		},
	}
}

func newWatchCmd(app *App) *cobra.Command {
	var autoRefresh bool

	cmd := &cobra.Command{
		Use:   "watch <board>",
		Short: "Show a board and follow changes live",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			s, leave, err := app.openSession(ctx, args[0])
			if err != nil {
				return explain(err)
			}
			defer leave()
			return watch(ctx, cmd.OutOrStdout(), s, autoRefresh)
		},
	}
	cmd.Flags().BoolVar(&autoRefresh, "auto-refresh", true, "Refetch the board when another user moves a card")
	return cmd
}

// watch redraws on every committed change, and once a second so toasts
// expire and presence stays current.
func watch(ctx context.Context, out io.Writer, s *session.Session, autoRefresh bool) error {
	changed := make(chan struct{}, 1)
	unsubscribe := s.Store().Subscribe(func(board.Board) {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		if autoRefresh && s.Drifted() {
			if _, err := s.Refresh(ctx); err != nil && ctx.Err() == nil {
				return explain(err)
			}
		}
		if b, ok := s.Store().Snapshot(); ok {
			fmt.Fprint(out, "\033[H\033[2J")
			fmt.Fprint(out, renderBoard(b, time.Now()))
			fmt.Fprint(out, renderPresence(s.ActiveUsers()))
			if s.Drifted() {
				fmt.Fprintln(out, mutedStyle.Render("Cards were moved elsewhere; positions may be stale."))
			}
			for _, t := range s.Toasts().Active() {
				fmt.Fprintln(out, toastStyles[t.Kind].Render(t.Message))
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-changed:
		case <-ticker.C:
		}
	}
}

func newInviteCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "invite <board> <email>",
		Short: "Invite someone to a board by email",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := app.client(cmd.Context())
			if err != nil {
				return err
			}
			inv, err := client.Invite(cmd.Context(), args[0], args[1])
			if err != nil {
				return explain(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Invited %s to %s (token %s)\n", inv.Email, inv.BoardTitle, inv.Token)
			return nil
		},
	}
}

func newAcceptInviteCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "accept-invite <token>",
		Short: "Accept a board invitation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := app.client(cmd.Context())
			if err != nil {
				return err
			}
			token := magicToken(args[0])
			inv, err := client.Invitation(cmd.Context(), token)
			if err != nil {
				return explain(err)
			}
			if _, err := client.AcceptInvite(cmd.Context(), token); err != nil {
				return explain(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Joined %s, invited by %s\n", inv.BoardTitle, inv.InvitedBy)
			return nil
		},
	}
}
