package board

import (
	"encoding/json"
	"fmt"
)

// maxLegacyItems bounds how many placeholder items a legacy counter expands to.
const maxLegacyItems = 1000

// legacyChecklist is the flat progress counter older card payloads carry in
// place of nested checklists.
type legacyChecklist struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
}

func (lc legacyChecklist) expand(cardID string) (Checklist, error) {
	if lc.Total > maxLegacyItems {
		return Checklist{}, fmt.Errorf("card %s: legacy checklist total %d exceeds %d", cardID, lc.Total, maxLegacyItems)
	}
	completed := min(max(lc.Completed, 0), lc.Total)
	cl := Checklist{ID: cardID + "-checklist", Title: "Checklist", Items: make([]Item, lc.Total)}
	for i := range cl.Items {
		cl.Items[i] = Item{
			ID:      fmt.Sprintf("%s-item-%d", cardID, i+1),
			Text:    fmt.Sprintf("Item %d", i+1),
			Checked: i < completed,
		}
	}
	return cl, nil
}

// UnmarshalJSON accepts `_id` as an alias of `id` and upgrades the legacy
// `checklist: {total, completed}` shape to nested checklists.
func (c *Card) UnmarshalJSON(data []byte) error {
	type plain Card
	var raw struct {
		plain
		LegacyID  string           `json:"_id"`
		Checklist *legacyChecklist `json:"checklist"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*c = Card(raw.plain)
	if c.ID == "" {
		c.ID = raw.LegacyID
	}
	if len(c.Checklists) == 0 && raw.Checklist != nil && raw.Checklist.Total > 0 {
		cl, err := raw.Checklist.expand(c.ID)
		if err != nil {
			return err
		}
		c.Checklists = []Checklist{cl}
	}
	return nil
}

func (l *List) UnmarshalJSON(data []byte) error {
	type plain List
	var raw struct {
		plain
		LegacyID string `json:"_id"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*l = List(raw.plain)
	if l.ID == "" {
		l.ID = raw.LegacyID
	}
	return nil
}

func (b *Board) UnmarshalJSON(data []byte) error {
	type plain Board
	var raw struct {
		plain
		LegacyID string `json:"_id"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*b = Board(raw.plain)
	if b.ID == "" {
		b.ID = raw.LegacyID
	}
	return nil
}
