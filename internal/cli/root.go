// Package cli implements boardctl, a terminal client for the kanban backend.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/CrowderSoup/kanban-sync/api"
	"github.com/CrowderSoup/kanban-sync/credstore"
	"github.com/CrowderSoup/kanban-sync/push"
	"github.com/CrowderSoup/kanban-sync/session"
)

const defaultBaseURL = "http://localhost:3001"

type App struct {
	BaseURL   string
	CredsPath string
	Debug     bool

	log   *log.Logger
	creds *credstore.Store
}

func NewRootCmd() *cobra.Command {
	app := &App{log: log.New()}

	cmd := &cobra.Command{
		Use:          "boardctl",
		Short:        "Collaborative kanban boards from the terminal",
		SilenceUsage: true,
		Example: strings.TrimSpace(`
  # Sign in with a magic link
  boardctl login --email you@example.com

  # Show a board and follow changes as they happen
  boardctl show <board-id>
  boardctl watch <board-id>

  # Move a card to the top of another list
  boardctl move-card <board-id> <card> Done 0
`),
	}

	cmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		app.log.SetOutput(cmd.ErrOrStderr())
		app.log.SetLevel(log.WarnLevel)
		if app.Debug {
			app.log.SetLevel(log.DebugLevel)
		}
		return nil
	}
	cmd.PersistentPostRunE = func(cmd *cobra.Command, args []string) error {
		if app.creds != nil {
			return app.creds.Close()
		}
		return nil
	}

	cmd.PersistentFlags().StringVar(&app.BaseURL, "api", envOr("BOARD_API_URL", ""), "Backend base URL (default: the URL of the saved login, then "+defaultBaseURL+")")
	cmd.PersistentFlags().StringVar(&app.CredsPath, "credentials", envOr("BOARDCTL_CREDENTIALS", defaultCredsPath()), "Path to the credentials database")
	cmd.PersistentFlags().BoolVar(&app.Debug, "debug", false, "Log requests and push traffic")

	cmd.AddCommand(newLoginCmd(app))
	cmd.AddCommand(newLogoutCmd(app))
	cmd.AddCommand(newWhoamiCmd(app))
	cmd.AddCommand(newBoardsCmd(app))
	cmd.AddCommand(newCreateBoardCmd(app))
	cmd.AddCommand(newRenameBoardCmd(app))
	cmd.AddCommand(newDeleteBoardCmd(app))
	cmd.AddCommand(newJoinCmd(app))
	cmd.AddCommand(newShowCmd(app))
	cmd.AddCommand(newWatchCmd(app))
	cmd.AddCommand(newAddListCmd(app))
	cmd.AddCommand(newRenameListCmd(app))
	cmd.AddCommand(newDeleteListCmd(app))
	cmd.AddCommand(newMoveListCmd(app))
	cmd.AddCommand(newAddCardCmd(app))
	cmd.AddCommand(newEditCardCmd(app))
	cmd.AddCommand(newDeleteCardCmd(app))
	cmd.AddCommand(newMoveCardCmd(app))
	cmd.AddCommand(newInviteCmd(app))
	cmd.AddCommand(newAcceptInviteCmd(app))

	return cmd
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func defaultCredsPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "boardctl-credentials.db"
	}
	return filepath.Join(dir, "boardctl", "credentials.db")
}

func (app *App) credentials() (*credstore.Store, error) {
	if app.creds != nil {
		return app.creds, nil
	}
	if err := os.MkdirAll(filepath.Dir(app.CredsPath), 0o700); err != nil {
		return nil, err
	}
	s, err := credstore.Open(app.CredsPath)
	if err != nil {
		return nil, err
	}
	app.creds = s
	return s, nil
}

// baseURL picks the --api flag, then the URL the saved login was made
// against, then the default.
func (app *App) baseURL(ctx context.Context) string {
	if app.BaseURL != "" {
		return strings.TrimRight(app.BaseURL, "/")
	}
	if s, err := app.credentials(); err == nil {
		if c, err := s.Load(ctx); err == nil && c.BaseURL != "" {
			return c.BaseURL
		}
	}
	return defaultBaseURL
}

func (app *App) client(ctx context.Context) (*api.Client, error) {
	s, err := app.credentials()
	if err != nil {
		return nil, err
	}
	c := api.New(app.baseURL(ctx), s)
	c.Log = app.log
	return c, nil
}

func pushURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/api/ws"
}

// openSession connects the push channel and opens boardID. The returned
// func leaves the board, flushing pending edits, and disconnects.
func (app *App) openSession(ctx context.Context, boardID string, opts ...session.Option) (*session.Session, func(), error) {
	client, err := app.client(ctx)
	if err != nil {
		return nil, nil, err
	}
	creds, err := app.credentials()
	if err != nil {
		return nil, nil, err
	}
	saved, err := creds.Load(ctx)
	if err != nil {
		return nil, nil, err
	}

	ch := push.New(pushURL(client.BaseURL), creds)
	ch.Log = app.log
	pushCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ch.Run(pushCtx)
	}()

	opts = append([]session.Option{session.WithLogger(app.log), session.WithSelf(saved.UserID)}, opts...)
	s := session.New(client, ch, opts...)
	if _, err := s.Open(ctx, boardID); err != nil {
		s.Close()
		cancel()
		<-done
		return nil, nil, err
	}
	return s, func() {
		s.Close()
		cancel()
		<-done
	}, nil
}

// explain rewrites errors the user can act on.
func explain(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, credstore.ErrNoCredentials):
		return errors.New("not logged in; run `boardctl login`")
	case errors.Is(err, credstore.ErrExpired):
		return errors.New("your session has expired; run `boardctl login` again")
	case errors.Is(err, api.ErrUnauthorized):
		return errors.New("the server rejected your session; run `boardctl login` again")
	case errors.Is(err, session.ErrAccessDenied), errors.Is(err, api.ErrForbidden):
		return fmt.Errorf("you do not have access to this board: %w", err)
	}
	return err
}
