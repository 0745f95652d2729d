package cli

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/CrowderSoup/kanban-sync/board"
	"github.com/CrowderSoup/kanban-sync/planner"
	"github.com/CrowderSoup/kanban-sync/session"
)

// mutate opens boardID, runs fn against the loaded board and reports the
// outcome once the change has been saved or reverted.
func (app *App) mutate(cmd *cobra.Command, boardID string, fn func(*session.Session, board.Board) (string, error)) error {
	s, leave, err := app.openSession(cmd.Context(), boardID)
	if err != nil {
		return explain(err)
	}
	defer leave()

	b, _ := s.Store().Snapshot()
	msg, err := fn(s, b)
	if err != nil {
		return explain(err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), msg)
	return nil
}

var errAmbiguous = errors.New("matches more than one")

// findList looks a list up by id, then by case-insensitive title.
func findList(b board.Board, ref string) (board.List, int, error) {
	for i, l := range b.Lists {
		if l.ID == ref {
			return l, i, nil
		}
	}
	found := -1
	for i, l := range b.Lists {
		if strings.EqualFold(l.Title, ref) {
			if found >= 0 {
				return board.List{}, 0, fmt.Errorf("list %q %w", ref, errAmbiguous)
			}
			found = i
		}
	}
	if found < 0 {
		return board.List{}, 0, fmt.Errorf("no list %q on %s", ref, b.Title)
	}
	return b.Lists[found], found, nil
}

// findCard looks a card up by id, then by case-insensitive title.
func findCard(b board.Board, ref string) (board.Card, string, int, error) {
	if c, listID, idx, ok := b.Card(ref); ok {
		return c, listID, idx, nil
	}
	var (
		match  board.Card
		listID string
		index  = -1
	)
	for _, l := range b.Lists {
		for i, c := range l.Cards {
			if !strings.EqualFold(c.Title, ref) {
				continue
			}
			if index >= 0 {
				return board.Card{}, "", 0, fmt.Errorf("card %q %w", ref, errAmbiguous)
			}
			match, listID, index = c, l.ID, i
		}
	}
	if index < 0 {
		return board.Card{}, "", 0, fmt.Errorf("no card %q on %s", ref, b.Title)
	}
	return match, listID, index, nil
}

func parseIndex(s string) (int, error) {
	i, err := strconv.Atoi(s)
	if err != nil || i < 0 {
		return 0, fmt.Errorf("position %q is not a non-negative number", s)
	}
	return i, nil
}

// parseDue accepts a date or an RFC 3339 timestamp.
func parseDue(s string) (*time.Time, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	if t, err := time.ParseInLocation(time.DateOnly, s, time.Local); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, fmt.Errorf("due date %q: use YYYY-MM-DD or RFC 3339", s)
	}
	return &t, nil
}

func newAddListCmd(app *App) *cobra.Command {
	var at int

	cmd := &cobra.Command{
		Use:   "add-list <board> <title>",
		Short: "Add a list",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			title := strings.Join(args[1:], " ")
			return app.mutate(cmd, args[0], func(s *session.Session, _ board.Board) (string, error) {
				return "List added", s.Engine().AddList(title, at).Wait(cmd.Context())
			})
		},
	}
	cmd.Flags().IntVar(&at, "at", -1, "Position of the new list (default: last)")
	return cmd
}

func newRenameListCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "rename-list <board> <list> <title>",
		Short: "Rename a list",
		Args:  cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			title := strings.Join(args[2:], " ")
			return app.mutate(cmd, args[0], func(s *session.Session, b board.Board) (string, error) {
				l, _, err := findList(b, args[1])
				if err != nil {
					return "", err
				}
				return "List renamed", s.Engine().UpdateList(l.ID, board.ListPatch{Title: &title}).Wait(cmd.Context())
			})
		},
	}
}

func newDeleteListCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "delete-list <board> <list>",
		Short: "Delete a list and its cards",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.mutate(cmd, args[0], func(s *session.Session, b board.Board) (string, error) {
				l, _, err := findList(b, args[1])
				if err != nil {
					return "", err
				}
				return fmt.Sprintf("Deleted %s and %d cards", l.Title, len(l.Cards)), s.Engine().DeleteList(l.ID).Wait(cmd.Context())
			})
		},
	}
}

func newMoveListCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "move-list <board> <list> <position>",
		Short: "Move a list to a new position",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			dest, err := parseIndex(args[2])
			if err != nil {
				return err
			}
			return app.mutate(cmd, args[0], func(s *session.Session, b board.Board) (string, error) {
				l, from, err := findList(b, args[1])
				if err != nil {
					return "", err
				}
				g := planner.Gesture{
					EntityID:          l.ID,
					SourceContainerID: b.ID,
					SourceIndex:       from,
					DestContainerID:   b.ID,
					DestIndex:         dest,
				}
				return "List moved", s.Engine().ReorderList(g).Wait(cmd.Context())
			})
		},
	}
}

type cardFlags struct {
	title       string
	description string
	labels      []string
	dueStart    string
	due         string
}

func (f *cardFlags) register(cmd *cobra.Command, withTitle bool) {
	if withTitle {
		cmd.Flags().StringVar(&f.title, "title", "", "Card title")
	}
	cmd.Flags().StringVar(&f.description, "description", "", "Card description")
	cmd.Flags().StringSliceVar(&f.labels, "label", nil, "Label as name or name:color; repeatable")
	cmd.Flags().StringVar(&f.dueStart, "start", "", "Start date (YYYY-MM-DD or RFC 3339)")
	cmd.Flags().StringVar(&f.due, "due", "", "Due date (YYYY-MM-DD or RFC 3339)")
}

func parseLabels(in []string) []board.Label {
	out := make([]board.Label, 0, len(in))
	for _, s := range in {
		name, color, _ := strings.Cut(s, ":")
		out = append(out, board.Label{Name: strings.TrimSpace(name), Color: strings.TrimSpace(color)})
	}
	return out
}

func (f *cardFlags) dueWindow() (board.DueWindow, error) {
	start, err := parseDue(f.dueStart)
	if err != nil {
		return board.DueWindow{}, err
	}
	end, err := parseDue(f.due)
	if err != nil {
		return board.DueWindow{}, err
	}
	return board.DueWindow{Start: start, End: end}, nil
}

// patch builds a card patch from the flags that were set.
func (f *cardFlags) patch(cmd *cobra.Command) (board.CardPatch, error) {
	var p board.CardPatch
	if cmd.Flags().Changed("title") {
		p.Title = &f.title
	}
	if cmd.Flags().Changed("description") {
		p.Description = &f.description
	}
	if cmd.Flags().Changed("label") {
		labels := parseLabels(f.labels)
		p.Labels = &labels
	}
	if cmd.Flags().Changed("start") || cmd.Flags().Changed("due") {
		d, err := f.dueWindow()
		if err != nil {
			return p, err
		}
		p.DueDate = &d
	}
	return p, nil
}

func newAddCardCmd(app *App) *cobra.Command {
	var (
		f  cardFlags
		at int
	)

	cmd := &cobra.Command{
		Use:   "add-card <board> <list> <title>",
		Short: "Add a card to a list",
		Args:  cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			due, err := f.dueWindow()
			if err != nil {
				return err
			}
			draft := board.Card{
				Title:       strings.Join(args[2:], " "),
				Description: f.description,
				Labels:      parseLabels(f.labels),
				DueDate:     due,
			}
			return app.mutate(cmd, args[0], func(s *session.Session, b board.Board) (string, error) {
				l, _, err := findList(b, args[1])
				if err != nil {
					return "", err
				}
				return "Card added to " + l.Title, s.Engine().AddCard(l.ID, draft, at).Wait(cmd.Context())
			})
		},
	}
	f.register(cmd, false)
	cmd.Flags().IntVar(&at, "at", -1, "Position in the list (default: last)")
	return cmd
}

func newEditCardCmd(app *App) *cobra.Command {
	var f cardFlags

	cmd := &cobra.Command{
		Use:   "edit-card <board> <card>",
		Short: "Change a card's fields",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := f.patch(cmd)
			if err != nil {
				return err
			}
			if p.IsEmpty() {
				return errors.New("nothing to change; see --help for the fields")
			}
			return app.mutate(cmd, args[0], func(s *session.Session, b board.Board) (string, error) {
				c, _, _, err := findCard(b, args[1])
				if err != nil {
					return "", err
				}
				return "Card updated", s.Engine().UpdateCard(c.ID, p).Wait(cmd.Context())
			})
		},
	}
	f.register(cmd, true)
	return cmd
}

func newDeleteCardCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "delete-card <board> <card>",
		Short: "Delete a card",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.mutate(cmd, args[0], func(s *session.Session, b board.Board) (string, error) {
				c, _, _, err := findCard(b, args[1])
				if err != nil {
					return "", err
				}
				return "Card deleted", s.Engine().DeleteCard(c.ID).Wait(cmd.Context())
			})
		},
	}
}

func newMoveCardCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "move-card <board> <card> <list> [position]",
		Short: "Move a card within or across lists",
		Args:  cobra.RangeArgs(3, 4),
		RunE: func(cmd *cobra.Command, args []string) error {
			dest := -1
			if len(args) == 4 {
				i, err := parseIndex(args[3])
				if err != nil {
					return err
				}
				dest = i
			}
			return app.mutate(cmd, args[0], func(s *session.Session, b board.Board) (string, error) {
				c, fromList, from, err := findCard(b, args[1])
				if err != nil {
					return "", err
				}
				to, _, err := findList(b, args[2])
				if err != nil {
					return "", err
				}
				g := planner.Gesture{
					EntityID:          c.ID,
					SourceContainerID: fromList,
					SourceIndex:       from,
					DestContainerID:   to.ID,
					DestIndex:         dest,
				}
				if dest < 0 {
					g.DestIndex = len(to.Cards)
					if to.ID == fromList {
						g.DestIndex--
					}
				}
				return "Card moved to " + to.Title, s.Engine().MoveCard(g).Wait(cmd.Context())
			})
		},
	}
}
