package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/CrowderSoup/kanban-sync/board"
	"github.com/CrowderSoup/kanban-sync/planner"
)

// ref is a bare row id so the board collection helpers can plan renumbering.
type ref string

func (r ref) EntityID() string { return string(r) }

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func orderedIDs(ctx context.Context, q queryer, query string, parentID string) ([]ref, error) {
	rows, err := q.QueryContext(ctx, query, parentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query positions: %w", err)
	}
	defer rows.Close()
	var ids []ref
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		ids = append(ids, ref(id))
	}
	return ids, rows.Err()
}

func listIDs(ctx context.Context, q queryer, boardID string) ([]ref, error) {
	return orderedIDs(ctx, q, "SELECT id FROM lists WHERE board_id = ? ORDER BY position, rowid", boardID)
}

func cardIDs(ctx context.Context, q queryer, listID string) ([]ref, error) {
	return orderedIDs(ctx, q, "SELECT id FROM cards WHERE list_id = ? ORDER BY position, rowid", listID)
}

// renumberLists writes dense positions 0..n-1 in slice order.
func renumberLists(ctx context.Context, tx *sql.Tx, ids []ref) error {
	for i, id := range ids {
		if _, err := tx.ExecContext(ctx, "UPDATE lists SET position = ? WHERE id = ?", i, string(id)); err != nil {
			return fmt.Errorf("failed to renumber lists: %w", err)
		}
	}
	return nil
}

// renumberCards writes dense positions and the owning list for every card.
func renumberCards(ctx context.Context, tx *sql.Tx, listID string, ids []ref) error {
	for i, id := range ids {
		if _, err := tx.ExecContext(ctx, "UPDATE cards SET list_id = ?, position = ? WHERE id = ?", listID, i, string(id)); err != nil {
			return fmt.Errorf("failed to renumber cards: %w", err)
		}
	}
	return nil
}

func touch(ctx context.Context, tx *sql.Tx, boardID string, s *DataService) error {
	_, err := tx.ExecContext(ctx, "UPDATE boards SET updated_at = ? WHERE id = ?", s.now().UTC(), boardID)
	if err != nil {
		return fmt.Errorf("failed to touch board: %w", err)
	}
	return nil
}

// CreateBoard creates a board owned by ownerID, seeded with the sample lists.
func (s *DataService) CreateBoard(ctx context.Context, ownerID, title string) (board.Board, error) {
	id := newID()
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		now := s.now().UTC()
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO boards (id, title, owner_id, created_at, updated_at) VALUES (?, ?, ?, ?, ?)",
			id, title, ownerID, now, now); err != nil {
			return fmt.Errorf("failed to insert board: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO board_members (board_id, user_id, role) VALUES (?, ?, ?)",
			id, ownerID, RoleOwner); err != nil {
			return fmt.Errorf("failed to insert owner: %w", err)
		}
		for i, t := range SampleLists {
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO lists (id, board_id, title, position) VALUES (?, ?, ?, ?)",
				newID(), id, t, i); err != nil {
				return fmt.Errorf("failed to seed lists: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return board.Board{}, err
	}
	return s.Board(ctx, id)
}

// Boards lists the boards userID is a member of, most recently changed first.
func (s *DataService) Boards(ctx context.Context, userID string) ([]BoardSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT b.id, b.title, b.background, m.role, b.updated_at
		FROM boards b JOIN board_members m ON m.board_id = b.id
		WHERE m.user_id = ?
		ORDER BY b.updated_at DESC, b.title`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query boards: %w", err)
	}
	defer rows.Close()
	out := []BoardSummary{}
	for rows.Next() {
		var b BoardSummary
		if err := rows.Scan(&b.ID, &b.Title, &b.Background, &b.Role, &b.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan board: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// Role returns userID's role on the board: ErrNotFound when the board does
// not exist, ErrNotMember when the user has not joined it.
func (s *DataService) Role(ctx context.Context, boardID, userID string) (string, error) {
	var exists bool
	if err := s.db.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM boards WHERE id = ?)", boardID).Scan(&exists); err != nil {
		return "", fmt.Errorf("failed to query board: %w", err)
	}
	if !exists {
		return "", fmt.Errorf("board %s: %w", boardID, ErrNotFound)
	}
	var role string
	err := s.db.QueryRowContext(ctx,
		"SELECT role FROM board_members WHERE board_id = ? AND user_id = ?", boardID, userID).Scan(&role)
	if err == sql.ErrNoRows {
		return "", ErrNotMember
	}
	if err != nil {
		return "", fmt.Errorf("failed to query membership: %w", err)
	}
	return role, nil
}

// AddMember joins userID to the board. Joining twice keeps the first role.
func (s *DataService) AddMember(ctx context.Context, boardID, userID, role string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO board_members (board_id, user_id, role) VALUES (?, ?, ?) ON CONFLICT(board_id, user_id) DO NOTHING",
		boardID, userID, role)
	if err != nil {
		return fmt.Errorf("failed to add member: %w", err)
	}
	return nil
}

// Board loads a board with its lists and cards in position order.
func (s *DataService) Board(ctx context.Context, id string) (board.Board, error) {
	b := board.Board{ID: id}
	err := s.db.QueryRowContext(ctx, "SELECT title, background FROM boards WHERE id = ?", id).Scan(&b.Title, &b.Background)
	if err == sql.ErrNoRows {
		return board.Board{}, fmt.Errorf("board %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return board.Board{}, fmt.Errorf("failed to query board: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, "SELECT id, title, position FROM lists WHERE board_id = ? ORDER BY position, rowid", id)
	if err != nil {
		return board.Board{}, fmt.Errorf("failed to query lists: %w", err)
	}
	b.Lists = []board.List{}
	byID := map[string]int{}
	for rows.Next() {
		l := board.List{Cards: []board.Card{}}
		if err := rows.Scan(&l.ID, &l.Title, &l.Position); err != nil {
			rows.Close()
			return board.Board{}, fmt.Errorf("failed to scan list: %w", err)
		}
		byID[l.ID] = len(b.Lists)
		b.Lists = append(b.Lists, l)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return board.Board{}, err
	}

	rows, err = s.db.QueryContext(ctx, `
		SELECT c.list_id, `+cardColumns+`
		FROM cards c JOIN lists l ON l.id = c.list_id
		WHERE l.board_id = ?
		ORDER BY c.position, c.rowid`, id)
	if err != nil {
		return board.Board{}, fmt.Errorf("failed to query cards: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var listID string
		c, err := scanCard(rows, &listID)
		if err != nil {
			return board.Board{}, err
		}
		if i, ok := byID[listID]; ok {
			b.Lists[i].Cards = append(b.Lists[i].Cards, c)
		}
	}
	return b, rows.Err()
}

func (s *DataService) UpdateBoard(ctx context.Context, id string, p board.BoardPatch) (board.Board, error) {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if p.Title != nil {
			if _, err := tx.ExecContext(ctx, "UPDATE boards SET title = ? WHERE id = ?", *p.Title, id); err != nil {
				return fmt.Errorf("failed to update board: %w", err)
			}
		}
		if p.Background != nil {
			if _, err := tx.ExecContext(ctx, "UPDATE boards SET background = ? WHERE id = ?", *p.Background, id); err != nil {
				return fmt.Errorf("failed to update board: %w", err)
			}
		}
		return touch(ctx, tx, id, s)
	})
	if err != nil {
		return board.Board{}, err
	}
	return s.Board(ctx, id)
}

func (s *DataService) DeleteBoard(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM boards WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete board: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("board %s: %w", id, ErrNotFound)
	}
	return nil
}

// ListBoard returns the board a list belongs to.
func (s *DataService) ListBoard(ctx context.Context, listID string) (string, error) {
	var boardID string
	err := s.db.QueryRowContext(ctx, "SELECT board_id FROM lists WHERE id = ?", listID).Scan(&boardID)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("list %s: %w", listID, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to query list: %w", err)
	}
	return boardID, nil
}

// CreateList inserts a list at position and shifts the lists after it.
func (s *DataService) CreateList(ctx context.Context, boardID, title string, position int) (board.List, error) {
	l := board.List{ID: newID(), Title: title, Cards: []board.Card{}}
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		ids, err := listIDs(ctx, tx, boardID)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO lists (id, board_id, title, position) VALUES (?, ?, ?, ?)",
			l.ID, boardID, title, len(ids)); err != nil {
			return fmt.Errorf("failed to insert list: %w", err)
		}
		ids = board.InsertAt(ids, ref(l.ID), position)
		l.Position = board.IndexOf(ids, l.ID)
		if err := renumberLists(ctx, tx, ids); err != nil {
			return err
		}
		return touch(ctx, tx, boardID, s)
	})
	if err != nil {
		return board.List{}, err
	}
	return l, nil
}

// UpdateList renames a list and returns it with the board it belongs to.
func (s *DataService) UpdateList(ctx context.Context, id string, p board.ListPatch) (board.List, string, error) {
	var (
		l       board.List
		boardID string
	)
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, "SELECT board_id, title, position FROM lists WHERE id = ?", id).
			Scan(&boardID, &l.Title, &l.Position)
		if err == sql.ErrNoRows {
			return fmt.Errorf("list %s: %w", id, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to query list: %w", err)
		}
		l.ID = id
		l = p.Apply(l)
		if _, err := tx.ExecContext(ctx, "UPDATE lists SET title = ? WHERE id = ?", l.Title, id); err != nil {
			return fmt.Errorf("failed to update list: %w", err)
		}
		return touch(ctx, tx, boardID, s)
	})
	return l, boardID, err
}

// DeleteList removes a list with its cards and closes the gap it leaves.
func (s *DataService) DeleteList(ctx context.Context, id string) (string, error) {
	var boardID string
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, "SELECT board_id FROM lists WHERE id = ?", id).Scan(&boardID)
		if err == sql.ErrNoRows {
			return fmt.Errorf("list %s: %w", id, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to query list: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM cards WHERE list_id = ?", id); err != nil {
			return fmt.Errorf("failed to delete cards: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM lists WHERE id = ?", id); err != nil {
			return fmt.Errorf("failed to delete list: %w", err)
		}
		ids, err := listIDs(ctx, tx, boardID)
		if err != nil {
			return err
		}
		if err := renumberLists(ctx, tx, ids); err != nil {
			return err
		}
		return touch(ctx, tx, boardID, s)
	})
	return boardID, err
}

// ReorderLists applies requested positions in ascending order, ignoring ids
// that are not lists of the board, then renumbers densely.
func (s *DataService) ReorderLists(ctx context.Context, boardID string, positions []planner.ListPosition) error {
	sorted := append([]planner.ListPosition(nil), positions...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Position < sorted[j].Position })
	return s.inTx(ctx, func(tx *sql.Tx) error {
		ids, err := listIDs(ctx, tx, boardID)
		if err != nil {
			return err
		}
		for _, p := range sorted {
			ids, _, _ = board.MoveByID(ids, p.ID, p.Position)
		}
		if err := renumberLists(ctx, tx, ids); err != nil {
			return err
		}
		return touch(ctx, tx, boardID, s)
	})
}

const cardColumns = "c.id, c.title, c.description, c.labels, c.due_start, c.due_end, c.checklists, c.position"

type scanner interface {
	Scan(dest ...any) error
}

func scanCard(row scanner, extra ...any) (board.Card, error) {
	var (
		c                  board.Card
		labels, checklists string
		start, end         sql.NullTime
	)
	dest := append(extra, &c.ID, &c.Title, &c.Description, &labels, &start, &end, &checklists, &c.Position)
	if err := row.Scan(dest...); err != nil {
		return board.Card{}, err
	}
	if err := json.Unmarshal([]byte(labels), &c.Labels); err != nil {
		return board.Card{}, fmt.Errorf("failed to unmarshal labels: %w", err)
	}
	if err := json.Unmarshal([]byte(checklists), &c.Checklists); err != nil {
		return board.Card{}, fmt.Errorf("failed to unmarshal checklists: %w", err)
	}
	if start.Valid {
		t := start.Time
		c.DueDate.Start = &t
	}
	if end.Valid {
		t := end.Time
		c.DueDate.End = &t
	}
	return c, nil
}

// withIDs gives every checklist and item without an id a fresh one.
func withIDs(cls []board.Checklist) []board.Checklist {
	out := make([]board.Checklist, len(cls))
	for i, cl := range cls {
		if cl.ID == "" {
			cl.ID = newID()
		}
		cl.Position = i
		items := make([]board.Item, len(cl.Items))
		for j, it := range cl.Items {
			if it.ID == "" {
				it.ID = newID()
			}
			items[j] = it
		}
		cl.Items = items
		out[i] = cl
	}
	return out
}

func cardValues(c board.Card) (labels, checklists string, start, end any, err error) {
	if c.Labels == nil {
		c.Labels = []board.Label{}
	}
	lb, err := json.Marshal(c.Labels)
	if err != nil {
		return "", "", nil, nil, fmt.Errorf("failed to marshal labels: %w", err)
	}
	cb, err := json.Marshal(withIDs(c.Checklists))
	if err != nil {
		return "", "", nil, nil, fmt.Errorf("failed to marshal checklists: %w", err)
	}
	if c.DueDate.Start != nil {
		start = c.DueDate.Start.UTC()
	}
	if c.DueDate.End != nil {
		end = c.DueDate.End.UTC()
	}
	return string(lb), string(cb), start, end, nil
}

// CardBoard returns the list and board a card belongs to.
func (s *DataService) CardBoard(ctx context.Context, cardID string) (boardID, listID string, err error) {
	err = s.db.QueryRowContext(ctx,
		"SELECT l.board_id, c.list_id FROM cards c JOIN lists l ON l.id = c.list_id WHERE c.id = ?", cardID).
		Scan(&boardID, &listID)
	if err == sql.ErrNoRows {
		return "", "", fmt.Errorf("card %s: %w", cardID, ErrNotFound)
	}
	if err != nil {
		return "", "", fmt.Errorf("failed to query card: %w", err)
	}
	return boardID, listID, nil
}

func (s *DataService) card(ctx context.Context, q queryer, id string) (board.Card, error) {
	c, err := scanCard(q.QueryRowContext(ctx, "SELECT "+cardColumns+" FROM cards c WHERE c.id = ?", id))
	if err == sql.ErrNoRows {
		return board.Card{}, fmt.Errorf("card %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return board.Card{}, fmt.Errorf("failed to query card: %w", err)
	}
	return c, nil
}

// CreateCard inserts c into listID at c.Position and returns it with its
// server id.
func (s *DataService) CreateCard(ctx context.Context, listID string, c board.Card) (board.Card, error) {
	boardID, err := s.ListBoard(ctx, listID)
	if err != nil {
		return board.Card{}, err
	}
	c.ID = newID()
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		labels, checklists, start, end, err := cardValues(c)
		if err != nil {
			return err
		}
		ids, err := cardIDs(ctx, tx, listID)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO cards (id, list_id, title, description, labels, due_start, due_end, checklists, position)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID, listID, c.Title, c.Description, labels, start, end, checklists, len(ids)); err != nil {
			return fmt.Errorf("failed to insert card: %w", err)
		}
		ids = board.InsertAt(ids, ref(c.ID), c.Position)
		if err := renumberCards(ctx, tx, listID, ids); err != nil {
			return err
		}
		return touch(ctx, tx, boardID, s)
	})
	if err != nil {
		return board.Card{}, err
	}
	return s.card(ctx, s.db, c.ID)
}

// UpdateCard applies a patch and returns the stored card.
func (s *DataService) UpdateCard(ctx context.Context, id string, p board.CardPatch) (board.Card, error) {
	boardID, _, err := s.CardBoard(ctx, id)
	if err != nil {
		return board.Card{}, err
	}
	var c board.Card
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		cur, err := s.card(ctx, tx, id)
		if err != nil {
			return err
		}
		c = p.Apply(cur)
		labels, checklists, start, end, err := cardValues(c)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE cards SET title = ?, description = ?, labels = ?, due_start = ?, due_end = ?, checklists = ?
			WHERE id = ?`,
			c.Title, c.Description, labels, start, end, checklists, id); err != nil {
			return fmt.Errorf("failed to update card: %w", err)
		}
		return touch(ctx, tx, boardID, s)
	})
	if err != nil {
		return board.Card{}, err
	}
	return s.card(ctx, s.db, id)
}

// DeleteCard removes a card and closes the gap in its list.
func (s *DataService) DeleteCard(ctx context.Context, id string) error {
	boardID, listID, err := s.CardBoard(ctx, id)
	if err != nil {
		return err
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM cards WHERE id = ?", id); err != nil {
			return fmt.Errorf("failed to delete card: %w", err)
		}
		ids, err := cardIDs(ctx, tx, listID)
		if err != nil {
			return err
		}
		if err := renumberCards(ctx, tx, listID, ids); err != nil {
			return err
		}
		return touch(ctx, tx, boardID, s)
	})
}

// MoveCard moves a card to position in destListID, which must be on the same
// board. Both lists are renumbered. It returns the list the card left.
func (s *DataService) MoveCard(ctx context.Context, id, destListID string, position int) (string, error) {
	boardID, srcListID, err := s.CardBoard(ctx, id)
	if err != nil {
		return "", err
	}
	destBoard, err := s.ListBoard(ctx, destListID)
	if err != nil {
		return "", err
	}
	if destBoard != boardID {
		return "", fmt.Errorf("list %s is on another board: %w", destListID, ErrNotFound)
	}
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		src, err := cardIDs(ctx, tx, srcListID)
		if err != nil {
			return err
		}
		if srcListID == destListID {
			src, _, _ = board.MoveByID(src, id, position)
			if err := renumberCards(ctx, tx, srcListID, src); err != nil {
				return err
			}
			return touch(ctx, tx, boardID, s)
		}
		dest, err := cardIDs(ctx, tx, destListID)
		if err != nil {
			return err
		}
		src = board.RemoveByID(src, id)
		dest = board.InsertAt(dest, ref(id), position)
		if err := renumberCards(ctx, tx, srcListID, src); err != nil {
			return err
		}
		if err := renumberCards(ctx, tx, destListID, dest); err != nil {
			return err
		}
		return touch(ctx, tx, boardID, s)
	})
	return srcListID, err
}
