package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// CreateInvitation records an invitation for email to join the board.
func (s *DataService) CreateInvitation(ctx context.Context, boardID, email, invitedBy string) (Invitation, error) {
	inv := Invitation{
		Token:     newID(),
		BoardID:   boardID,
		Email:     strings.ToLower(strings.TrimSpace(email)),
		InvitedBy: invitedBy,
		ExpiresAt: s.now().Add(InvitationTTL).UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO invitations (token, board_id, email, invited_by, expires_at) VALUES (?, ?, ?, ?, ?)",
		inv.Token, inv.BoardID, inv.Email, inv.InvitedBy, inv.ExpiresAt)
	if err != nil {
		return Invitation{}, fmt.Errorf("failed to insert invitation: %w", err)
	}
	return s.Invitation(ctx, inv.Token)
}

// Invitation looks up an invitation with its board title and inviter name.
func (s *DataService) Invitation(ctx context.Context, token string) (Invitation, error) {
	var (
		inv      Invitation
		accepted int
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT i.token, i.board_id, b.title, i.email, u.name, i.expires_at, i.accepted
		FROM invitations i
		JOIN boards b ON b.id = i.board_id
		JOIN users u ON u.id = i.invited_by
		WHERE i.token = ?`, token).
		Scan(&inv.Token, &inv.BoardID, &inv.BoardTitle, &inv.Email, &inv.InvitedBy, &inv.ExpiresAt, &accepted)
	if err == sql.ErrNoRows {
		return Invitation{}, fmt.Errorf("invitation: %w", ErrNotFound)
	}
	if err != nil {
		return Invitation{}, fmt.Errorf("failed to query invitation: %w", err)
	}
	inv.Accepted = accepted != 0
	return inv, nil
}

// AcceptInvitation joins userID to the invitation's board. Accepting an
// already accepted invitation is allowed; an expired one is not.
func (s *DataService) AcceptInvitation(ctx context.Context, token, userID string) (Invitation, error) {
	inv, err := s.Invitation(ctx, token)
	if err != nil {
		return Invitation{}, err
	}
	if !inv.Accepted && !s.now().Before(inv.ExpiresAt) {
		return Invitation{}, ErrExpired
	}
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO board_members (board_id, user_id, role) VALUES (?, ?, ?) ON CONFLICT(board_id, user_id) DO NOTHING",
			inv.BoardID, userID, RoleMember); err != nil {
			return fmt.Errorf("failed to add member: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "UPDATE invitations SET accepted = 1 WHERE token = ?", token); err != nil {
			return fmt.Errorf("failed to accept invitation: %w", err)
		}
		return nil
	})
	if err != nil {
		return Invitation{}, err
	}
	inv.Accepted = true
	return inv, nil
}
