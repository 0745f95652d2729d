package cli

import (
	"bytes"
	"context"
	"net/http/httptest"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CrowderSoup/kanban-sync/api"
	"github.com/CrowderSoup/kanban-sync/board"
	"github.com/CrowderSoup/kanban-sync/credstore"
	"github.com/CrowderSoup/kanban-sync/database"
	"github.com/CrowderSoup/kanban-sync/handlers"
	"github.com/CrowderSoup/kanban-sync/services"
)

func startBackend(t *testing.T) string {
	t.Helper()
	logger := log.New()
	logger.SetLevel(log.ErrorLevel)

	db, err := database.InitDB(filepath.Join(t.TempDir(), "kanban.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	data := database.NewDataService(db)
	auth := services.NewAuthService("test-secret", services.SMTPConfig{}, logger)
	bus := services.NewLocalBus()
	hub := services.NewHub(logger)
	hub.Publish = bus.Publish
	boards := handlers.NewBoardHandler(data, auth, hub, bus, logger)
	hub.Authorize = boards.Authorize

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)
	go bus.Run(ctx, hub.Deliver)

	srv := httptest.NewServer(handlers.NewRouter(handlers.NewAuthHandler(auth, data, logger), boards, handlers.NewAuthMiddleware(auth)))
	t.Cleanup(srv.Close)
	return srv.URL
}

type harness struct {
	t     *testing.T
	url   string
	creds string
}

func (h *harness) run(args ...string) (string, error) {
	h.t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--api", h.url, "--credentials", h.creds}, args...))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func (h *harness) mustRun(args ...string) string {
	h.t.Helper()
	out, err := h.run(args...)
	require.NoError(h.t, err, out)
	return out
}

var createdBoard = regexp.MustCompile(`Created board .* \((.+)\)`)

func TestBoardWorkflow(t *testing.T) {
	h := &harness{t: t, url: startBackend(t), creds: filepath.Join(t.TempDir(), "creds.db")}

	_, err := h.run("boards")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not logged in")

	assert.Contains(t, h.mustRun("login", "--email", "alice@example.com", "--name", "Alice"), "Signed in as Alice")
	assert.Contains(t, h.mustRun("whoami"), "alice@example.com")

	m := createdBoard.FindStringSubmatch(h.mustRun("create-board", "Launch", "plan"))
	require.Len(t, m, 2)
	boardID := m[1]

	assert.Contains(t, h.mustRun("add-card", boardID, "to-do", "Write", "docs", "--label", "docs:green", "--due", "2030-01-02"), "Card added to To-Do")
	assert.Contains(t, h.mustRun("add-list", boardID, "Later"), "List added")
	assert.Contains(t, h.mustRun("move-card", boardID, "Write docs", "Done", "0"), "Card moved to Done")
	assert.Contains(t, h.mustRun("edit-card", boardID, "Write docs", "--description", "Cover the sync engine"), "Card updated")
	assert.Contains(t, h.mustRun("move-list", boardID, "Later", "0"), "List moved")

	store, err := credstore.Open(h.creds)
	require.NoError(t, err)
	defer store.Close()
	b, err := api.New(h.url, store).Board(context.Background(), boardID)
	require.NoError(t, err)

	require.Len(t, b.Lists, 4)
	assert.Equal(t, "Later", b.Lists[0].Title)
	done := b.Lists[3]
	require.Len(t, done.Cards, 1)
	assert.Equal(t, "Cover the sync engine", done.Cards[0].Description)
	assert.Equal(t, []board.Label{{Name: "docs", Color: "green"}}, done.Cards[0].Labels)
	require.NotNil(t, done.Cards[0].DueDate.End)

	shown := h.mustRun("show", boardID)
	assert.Contains(t, shown, "Write docs")
	assert.Contains(t, shown, "#docs")

	assert.Contains(t, h.mustRun("boards"), "Launch plan")
	h.mustRun("logout")
	_, err = h.run("whoami")
	assert.Error(t, err)
}

func TestMissingListIsReported(t *testing.T) {
	h := &harness{t: t, url: startBackend(t), creds: filepath.Join(t.TempDir(), "creds.db")}
	h.mustRun("login", "--email", "bob@example.com")
	boardID := createdBoard.FindStringSubmatch(h.mustRun("create-board", "Ops"))[1]

	_, err := h.run("add-card", boardID, "Nowhere", "Task")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `no list "Nowhere"`)
}

func TestFindCardByTitle(t *testing.T) {
	b := board.Board{ID: "b", Title: "B", Lists: []board.List{
		{ID: "l1", Title: "To-Do", Cards: []board.Card{{ID: "c1", Title: "Alpha"}, {ID: "c2", Title: "Beta"}}},
		{ID: "l2", Title: "Done", Cards: []board.Card{{ID: "c3", Title: "beta"}}},
	}}

	c, listID, idx, err := findCard(b, "alpha")
	require.NoError(t, err)
	assert.Equal(t, "c1", c.ID)
	assert.Equal(t, "l1", listID)
	assert.Equal(t, 0, idx)

	c, listID, idx, err = findCard(b, "c3")
	require.NoError(t, err)
	assert.Equal(t, "beta", c.Title)
	assert.Equal(t, "l2", listID)
	assert.Equal(t, 0, idx)

	_, _, _, err = findCard(b, "Beta")
	assert.ErrorIs(t, err, errAmbiguous)
}

func TestRenderShowsDueAndProgress(t *testing.T) {
	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	past := now.Add(-48 * time.Hour)
	b := board.Board{ID: "b1", Title: "Launch", Lists: []board.List{{
		ID: "l1", Title: "To-Do",
		Cards: []board.Card{{
			ID: "c1", Title: "Ship it",
			DueDate: board.DueWindow{End: &past},
			Checklists: []board.Checklist{{ID: "k", Items: []board.Item{
				{ID: "i1", Checked: true}, {ID: "i2"},
			}}},
		}},
	}}}

	out := renderBoard(b, now)
	assert.Contains(t, out, "Launch")
	assert.Contains(t, out, "Ship it")
	assert.Contains(t, out, "[1/2]")
	assert.Contains(t, out, "2 days ago")
	assert.True(t, strings.Contains(out, "(1)"))
}

func TestMagicTokenAcceptsLinks(t *testing.T) {
	assert.Equal(t, "abc", magicToken("http://localhost:3001/api/auth/magic-link?token=abc\n"))
	assert.Equal(t, "abc", magicToken(" abc "))
}

func TestPushURL(t *testing.T) {
	assert.Equal(t, "ws://localhost:3001/api/ws", pushURL("http://localhost:3001"))
	assert.Equal(t, "wss://boards.example/api/ws", pushURL("https://boards.example"))
}
