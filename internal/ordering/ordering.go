// Package ordering computes dense 0..N-1 positions for drag-and-drop moves.
//
// Every reorder re-derives the complete position sequence of each affected
// column so the resulting batch can be written as an idempotent overwrite.
package ordering

import (
	"slices"
	"sort"

	"github.com/simonjohansson/taskboard/internal/model"
)

// Placement is one id with its new dense position.
type Placement struct {
	ID       string
	Position int
}

// CardMovePlan is the complete renumbering produced by a card move. When the
// move stays inside one column Dest is empty and Source carries the final
// order.
type CardMovePlan struct {
	CardID       string
	SourceColumn string
	DestColumn   string
	Source       []Placement
	Dest         []Placement
	CrossColumn  bool
}

// Batch flattens the plan into the store's position update format.
func (p CardMovePlan) Batch() []model.CardPosition {
	out := make([]model.CardPosition, 0, len(p.Source)+len(p.Dest))
	for _, pl := range p.Source {
		out = append(out, model.CardPosition{ID: pl.ID, ColumnID: p.SourceColumn, Position: pl.Position})
	}
	for _, pl := range p.Dest {
		out = append(out, model.CardPosition{ID: pl.ID, ColumnID: p.DestColumn, Position: pl.Position})
	}
	return out
}

func Remove(ids []string, id string) []string {
	out := make([]string, 0, len(ids))
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

// Insert places id at index, clamped to [0, len(ids)].
func Insert(ids []string, id string, index int) []string {
	index = clamp(index, len(ids))
	out := make([]string, 0, len(ids)+1)
	out = append(out, ids[:index]...)
	out = append(out, id)
	return append(out, ids[index:]...)
}

// Reorder moves id so that it ends up at index in the resulting sequence.
func Reorder(ids []string, id string, index int) []string {
	return Insert(Remove(ids, id), id, index)
}

func Dense(ids []string) []Placement {
	out := make([]Placement, len(ids))
	for i, id := range ids {
		out[i] = Placement{ID: id, Position: i}
	}
	return out
}

// PlanCardMove computes the renumbered sequences for moving cardID from srcCol
// to dstCol at index. It returns false when the move does not change anything.
func PlanCardMove(source, dest []string, cardID, srcCol, dstCol string, index int) (CardMovePlan, bool) {
	if srcCol == dstCol {
		current := slices.Index(source, cardID)
		if current < 0 {
			return CardMovePlan{}, false
		}
		if current == clamp(index, len(source)-1) {
			return CardMovePlan{}, false
		}
		return CardMovePlan{
			CardID:       cardID,
			SourceColumn: srcCol,
			DestColumn:   dstCol,
			Source:       Dense(Reorder(source, cardID, index)),
		}, true
	}
	return CardMovePlan{
		CardID:       cardID,
		SourceColumn: srcCol,
		DestColumn:   dstCol,
		Source:       Dense(Remove(source, cardID)),
		Dest:         Dense(Insert(Remove(dest, cardID), cardID, index)),
		CrossColumn:  true,
	}, true
}

// PlanColumnMove renumbers the board's columns after moving id to index.
func PlanColumnMove(ids []string, id string, index int) ([]Placement, bool) {
	current := slices.Index(ids, id)
	if current < 0 || current == clamp(index, len(ids)-1) {
		return nil, false
	}
	return Dense(Reorder(ids, id, index)), true
}

// Normalize sorts columns and cards by their stored position and rewrites the
// positions densely. Ties keep their relative order.
func Normalize(columns []model.Column) []model.Column {
	out := make([]model.Column, len(columns))
	copy(out, columns)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	for i := range out {
		out[i].Position = i
		cards := slices.Clone(out[i].Cards)
		sort.SliceStable(cards, func(a, b int) bool { return cards[a].Position < cards[b].Position })
		for j := range cards {
			cards[j].Position = j
			cards[j].ColumnID = out[i].ID
		}
		out[i].Cards = cards
	}
	return out
}

// IsDense reports whether positions are exactly 0..N-1 in slice order.
func IsDense(positions []int) bool {
	for i, p := range positions {
		if p != i {
			return false
		}
	}
	return true
}

func clamp(index, upper int) int {
	if upper < 0 {
		return 0
	}
	if index < 0 {
		return 0
	}
	if index > upper {
		return upper
	}
	return index
}
