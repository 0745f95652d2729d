package database

import "time"

type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"-"`
}

const (
	RoleOwner  = "owner"
	RoleMember = "member"
)

// BoardSummary is a row of the board index, without lists.
type BoardSummary struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Background string    `json:"background,omitempty"`
	Role       string    `json:"role"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

type Invitation struct {
	Token      string    `json:"token"`
	BoardID    string    `json:"boardId"`
	BoardTitle string    `json:"boardTitle"`
	Email      string    `json:"email"`
	InvitedBy  string    `json:"invitedBy"`
	ExpiresAt  time.Time `json:"expiresAt"`
	Accepted   bool      `json:"accepted"`
}

// InvitationTTL is how long an invitation can be accepted.
const InvitationTTL = 7 * 24 * time.Hour

// SampleLists seed a new board.
var SampleLists = []string{"To-Do", "Doing", "Done"}
