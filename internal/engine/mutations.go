package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/simonjohansson/taskboard/internal/ledger"
	"github.com/simonjohansson/taskboard/internal/model"
	"github.com/simonjohansson/taskboard/internal/ordering"
	"github.com/simonjohansson/taskboard/internal/permission"
)

type pendingRecord struct {
	cardID string
	kind   model.ActionKind
	detail any
}

// change is the outcome of applying one mutation to a working copy of the
// snapshot. A nil persist means nothing needs to reach the store.
type change struct {
	next    model.Snapshot
	noop    bool
	persist func(ctx context.Context, store Store) error
	records []pendingRecord
	forget  []string
}

// mutate runs fn against a copy of the snapshot under the engine lock and
// commits the result. Subscribers, the cross-session channel and the ledger
// are informed after the lock is released.
func (e *Engine) mutate(ctx context.Context, name string, fn func(snap model.Snapshot) (change, error)) error {
	e.mu.Lock()
	switch {
	case e.closed:
		e.mu.Unlock()
		return ErrClosed
	case e.state == StateUninitialized || e.state == StateLoading:
		e.mu.Unlock()
		return ErrNotStarted
	}
	c, err := fn(e.snapshot.Clone())
	if err != nil {
		e.mu.Unlock()
		if errors.Is(err, ErrDenied) {
			e.logger.Info("operation denied", "operation", name, "role", e.viewer.Role)
		}
		return err
	}
	if c.noop {
		e.mu.Unlock()
		return nil
	}
	e.snapshot = c.next
	stamp := e.bumpStamp()
	e.enqueueLocked(name, c.persist)
	view, subs, full := e.viewLocked(), e.subscribersLocked(), e.snapshot.Clone()
	e.mu.Unlock()

	notify(subs, view)
	e.broadcast(ctx, stamp, full)
	if len(c.forget) > 0 {
		e.ledger.Forget(c.forget...)
	}
	for _, rec := range c.records {
		e.ledger.Record(ctx, e.viewer, rec.cardID, rec.kind, rec.detail)
	}
	return nil
}

func (e *Engine) authorize(op permission.Operation, pctx permission.Context) error {
	if !permission.Authorize(e.viewer.Role, op, pctx) {
		return ErrDenied
	}
	return nil
}

func findColumn(snap model.Snapshot, columnID string) (int, error) {
	idx := snap.ColumnIndex(columnID)
	if idx < 0 {
		return -1, fmt.Errorf("%w: column %s", ErrNotFound, columnID)
	}
	return idx, nil
}

func findCard(snap model.Snapshot, cardID string) (int, int, error) {
	ci, ki := snap.FindCard(cardID)
	if ci < 0 {
		return -1, -1, fmt.Errorf("%w: card %s", ErrNotFound, cardID)
	}
	return ci, ki, nil
}

// arrange lays cards out in the order given by placements, taking each card
// from pool and assigning its column and dense position.
func arrange(pool map[string]model.Card, placements []ordering.Placement, columnID string) []model.Card {
	out := make([]model.Card, 0, len(placements))
	for _, pl := range placements {
		card := pool[pl.ID]
		card.ColumnID = columnID
		card.Position = pl.Position
		out = append(out, card)
	}
	return out
}

func renumberCards(cards []model.Card) {
	for i := range cards {
		cards[i].Position = i
	}
}

func renumberColumns(columns []model.Column) {
	for i := range columns {
		columns[i].Position = i
	}
}

// MoveCard places cardID at destIndex within destColumnID. Moving a card to
// the index it already holds is a no-op.
func (e *Engine) MoveCard(ctx context.Context, cardID, destColumnID string, destIndex int) error {
	return e.mutate(ctx, "move card", func(snap model.Snapshot) (change, error) {
		ci, _, err := findCard(snap, cardID)
		if err != nil {
			return change{}, err
		}
		di, err := findColumn(snap, destColumnID)
		if err != nil {
			return change{}, err
		}
		src, dst := snap.Columns[ci], snap.Columns[di]
		cross := ci != di

		if cross {
			err = e.authorize(permission.MoveCardAcrossColumns, permission.Context{
				Visibility:       src.Visibility,
				SourceVisibility: src.Visibility,
				DestVisibility:   dst.Visibility,
			})
		} else {
			err = e.authorize(permission.ReorderWithinColumn, permission.Context{Visibility: src.Visibility})
		}
		if err != nil {
			return change{}, err
		}
		if cross && dst.Full() {
			return change{}, fmt.Errorf("%w: %s", ErrColumnFull, dst.ID)
		}

		plan, ok := ordering.PlanCardMove(src.CardIDs(), dst.CardIDs(), cardID, src.ID, dst.ID, destIndex)
		if !ok {
			return change{noop: true}, nil
		}

		pool := make(map[string]model.Card, len(src.Cards)+len(dst.Cards))
		for _, card := range src.Cards {
			pool[card.ID] = card
		}
		for _, card := range dst.Cards {
			pool[card.ID] = card
		}
		if cross {
			moved := pool[cardID]
			moved.UpdatedAt = e.now().UTC()
			pool[cardID] = moved
			snap.Columns[di].Cards = arrange(pool, plan.Dest, dst.ID)
		}
		snap.Columns[ci].Cards = arrange(pool, plan.Source, src.ID)

		batch := plan.Batch()
		c := change{
			next: snap,
			persist: func(ctx context.Context, store Store) error {
				return store.BatchUpdateCardPositions(ctx, batch)
			},
		}
		if cross {
			c.records = []pendingRecord{{cardID: cardID, kind: model.ActionMoved, detail: ledger.MovedDetail(src, dst)}}
		}
		return c, nil
	})
}

// ReorderColumn moves columnID to destIndex on the board.
func (e *Engine) ReorderColumn(ctx context.Context, columnID string, destIndex int) error {
	return e.mutate(ctx, "reorder column", func(snap model.Snapshot) (change, error) {
		idx, err := findColumn(snap, columnID)
		if err != nil {
			return change{}, err
		}
		if err := e.authorize(permission.ReorderColumns, permission.Context{Visibility: snap.Columns[idx].Visibility}); err != nil {
			return change{}, err
		}
		ids := make([]string, len(snap.Columns))
		byID := make(map[string]model.Column, len(snap.Columns))
		for i, col := range snap.Columns {
			ids[i] = col.ID
			byID[col.ID] = col
		}
		placements, ok := ordering.PlanColumnMove(ids, columnID, destIndex)
		if !ok {
			return change{noop: true}, nil
		}

		columns := make([]model.Column, 0, len(placements))
		batch := make([]model.ColumnPosition, 0, len(placements))
		for _, pl := range placements {
			col := byID[pl.ID]
			col.Position = pl.Position
			columns = append(columns, col)
			batch = append(batch, model.ColumnPosition{ID: pl.ID, Position: pl.Position})
		}
		snap.Columns = columns
		return change{
			next: snap,
			persist: func(ctx context.Context, store Store) error {
				return store.BatchUpdateColumnPositions(ctx, batch)
			},
		}, nil
	})
}

// CreateCard appends a card to columnID. The identifier is generated here
// and kept by the store.
func (e *Engine) CreateCard(ctx context.Context, columnID, title string) (model.Card, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return model.Card{}, fmt.Errorf("%w: card title is required", ErrInvalid)
	}
	var created model.Card
	err := e.mutate(ctx, "create card", func(snap model.Snapshot) (change, error) {
		idx, err := findColumn(snap, columnID)
		if err != nil {
			return change{}, err
		}
		col := snap.Columns[idx]
		if err := e.authorize(permission.CreateCard, permission.Context{Visibility: col.Visibility}); err != nil {
			return change{}, err
		}
		if col.Full() {
			return change{}, fmt.Errorf("%w: %s", ErrColumnFull, col.ID)
		}
		now := e.now().UTC()
		card := model.NormalizeCard(model.Card{
			ID:        e.newID(),
			ColumnID:  col.ID,
			Title:     title,
			Position:  len(col.Cards),
			CreatedAt: now,
			UpdatedAt: now,
		})
		snap.Columns[idx].Cards = append(snap.Columns[idx].Cards, card)
		created = card.Clone()

		return change{
			next: snap,
			persist: func(ctx context.Context, store Store) error {
				_, err := store.CreateCard(ctx, card)
				return err
			},
			records: []pendingRecord{{cardID: card.ID, kind: model.ActionCreated, detail: ledger.CreatedDetail(card, col)}},
		}, nil
	})
	if err != nil {
		return model.Card{}, err
	}
	return created, nil
}

// UpdateCard applies patch to cardID. A patch that leaves the card unchanged
// is a no-op and records nothing.
func (e *Engine) UpdateCard(ctx context.Context, cardID string, patch model.CardPatch) (model.Card, error) {
	if patch.Empty() {
		return model.Card{}, fmt.Errorf("%w: nothing to update", ErrInvalid)
	}
	if patch.Title != nil && strings.TrimSpace(*patch.Title) == "" {
		return model.Card{}, fmt.Errorf("%w: card title must not be empty", ErrInvalid)
	}
	var updated model.Card
	err := e.mutate(ctx, "update card", func(snap model.Snapshot) (change, error) {
		ci, ki, err := findCard(snap, cardID)
		if err != nil {
			return change{}, err
		}
		if err := e.authorize(permission.EditCard, permission.Context{Visibility: snap.Columns[ci].Visibility}); err != nil {
			return change{}, err
		}
		before := snap.Columns[ci].Cards[ki]
		after := patch.Apply(before, e.now())
		kind, detail, ok := ledger.DescribeUpdate(before, after)
		if !ok {
			updated = before.Clone()
			return change{noop: true}, nil
		}
		snap.Columns[ci].Cards[ki] = after
		updated = after.Clone()
		return e.cardChange(snap, cardID, patch, pendingRecord{cardID: cardID, kind: kind, detail: detail}), nil
	})
	if err != nil {
		return model.Card{}, err
	}
	return updated, nil
}

func (e *Engine) cardChange(snap model.Snapshot, cardID string, patch model.CardPatch, rec pendingRecord) change {
	logger := e.logger
	return change{
		next: snap,
		persist: func(ctx context.Context, store Store) error {
			_, found, err := store.UpdateCard(ctx, cardID, patch)
			if err == nil && !found {
				logger.Debug("card not in store yet", "card_id", cardID)
			}
			return err
		},
		records: []pendingRecord{rec},
	}
}

// DeleteCard removes cardID and renumbers its column.
func (e *Engine) DeleteCard(ctx context.Context, cardID string) error {
	return e.mutate(ctx, "delete card", func(snap model.Snapshot) (change, error) {
		ci, ki, err := findCard(snap, cardID)
		if err != nil {
			return change{}, err
		}
		if err := e.authorize(permission.DeleteCard, permission.Context{Visibility: snap.Columns[ci].Visibility}); err != nil {
			return change{}, err
		}
		cards := slices.Delete(snap.Columns[ci].Cards, ki, ki+1)
		renumberCards(cards)
		snap.Columns[ci].Cards = cards
		return change{
			next: snap,
			persist: func(ctx context.Context, store Store) error {
				_, err := store.DeleteCard(ctx, cardID)
				return err
			},
			forget: []string{cardID},
		}, nil
	})
}

// CreateColumn appends a column. An empty visibility means open.
func (e *Engine) CreateColumn(ctx context.Context, title string, visibility model.Visibility, cardLimit *int) (model.Column, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return model.Column{}, fmt.Errorf("%w: column title is required", ErrInvalid)
	}
	if visibility == "" {
		visibility = model.VisibilityOpen
	}
	if !visibility.Valid() {
		return model.Column{}, fmt.Errorf("%w: unknown visibility %q", ErrInvalid, visibility)
	}
	if cardLimit != nil && *cardLimit < 0 {
		return model.Column{}, fmt.Errorf("%w: card limit must not be negative", ErrInvalid)
	}
	var created model.Column
	err := e.mutate(ctx, "create column", func(snap model.Snapshot) (change, error) {
		if err := e.authorize(permission.CreateColumn, permission.Context{Visibility: visibility}); err != nil {
			return change{}, err
		}
		now := e.now().UTC()
		col := model.Column{
			ID:         e.newID(),
			BoardID:    e.boardID,
			Title:      title,
			Visibility: visibility,
			Position:   len(snap.Columns),
			CreatedAt:  now,
			UpdatedAt:  now,
			Cards:      []model.Card{},
		}
		if cardLimit != nil {
			limit := *cardLimit
			col.CardLimit = &limit
		}
		snap.Columns = append(snap.Columns, col)
		created = col.Clone()
		return change{
			next: snap,
			persist: func(ctx context.Context, store Store) error {
				_, err := store.CreateColumn(ctx, col)
				return err
			},
		}, nil
	})
	if err != nil {
		return model.Column{}, err
	}
	return created, nil
}

// UpdateColumn applies patch to columnID. Changing visibility must be allowed
// for both the current and the new visibility.
func (e *Engine) UpdateColumn(ctx context.Context, columnID string, patch model.ColumnPatch) (model.Column, error) {
	switch {
	case patch.Empty():
		return model.Column{}, fmt.Errorf("%w: nothing to update", ErrInvalid)
	case patch.Title != nil && strings.TrimSpace(*patch.Title) == "":
		return model.Column{}, fmt.Errorf("%w: column title must not be empty", ErrInvalid)
	case patch.Visibility != nil && !patch.Visibility.Valid():
		return model.Column{}, fmt.Errorf("%w: unknown visibility %q", ErrInvalid, *patch.Visibility)
	case patch.CardLimit != nil && *patch.CardLimit < 0:
		return model.Column{}, fmt.Errorf("%w: card limit must not be negative", ErrInvalid)
	}
	var updated model.Column
	err := e.mutate(ctx, "update column", func(snap model.Snapshot) (change, error) {
		idx, err := findColumn(snap, columnID)
		if err != nil {
			return change{}, err
		}
		before := snap.Columns[idx]
		if err := e.authorize(permission.EditColumn, permission.Context{Visibility: before.Visibility}); err != nil {
			return change{}, err
		}
		if patch.Visibility != nil {
			if err := e.authorize(permission.EditColumn, permission.Context{Visibility: *patch.Visibility}); err != nil {
				return change{}, err
			}
		}
		after := patch.Apply(before, e.now())
		if sameColumnSettings(before, after) {
			updated = before.Clone()
			return change{noop: true}, nil
		}
		snap.Columns[idx] = after
		updated = after.Clone()
		return change{
			next: snap,
			persist: func(ctx context.Context, store Store) error {
				_, _, err := store.UpdateColumn(ctx, columnID, patch)
				return err
			},
		}, nil
	})
	if err != nil {
		return model.Column{}, err
	}
	return updated, nil
}

func sameColumnSettings(a, b model.Column) bool {
	if a.Title != b.Title || a.Visibility != b.Visibility {
		return false
	}
	switch {
	case a.CardLimit == nil && b.CardLimit == nil:
		return true
	case a.CardLimit == nil || b.CardLimit == nil:
		return false
	default:
		return *a.CardLimit == *b.CardLimit
	}
}

// DeleteColumn removes columnID together with its cards.
func (e *Engine) DeleteColumn(ctx context.Context, columnID string) error {
	return e.mutate(ctx, "delete column", func(snap model.Snapshot) (change, error) {
		idx, err := findColumn(snap, columnID)
		if err != nil {
			return change{}, err
		}
		if err := e.authorize(permission.DeleteColumn, permission.Context{Visibility: snap.Columns[idx].Visibility}); err != nil {
			return change{}, err
		}
		removed := snap.Columns[idx].CardIDs()
		snap.Columns = slices.Delete(snap.Columns, idx, idx+1)
		renumberColumns(snap.Columns)
		return change{
			next: snap,
			persist: func(ctx context.Context, store Store) error {
				_, err := store.DeleteColumn(ctx, columnID)
				return err
			},
			forget: removed,
		}, nil
	})
}

// AddMember assigns member to cardID.
func (e *Engine) AddMember(ctx context.Context, cardID, member string) error {
	return e.changeMembers(ctx, cardID, member, true)
}

// RemoveMember unassigns member from cardID.
func (e *Engine) RemoveMember(ctx context.Context, cardID, member string) error {
	return e.changeMembers(ctx, cardID, member, false)
}

func (e *Engine) changeMembers(ctx context.Context, cardID, member string, add bool) error {
	member = strings.TrimSpace(member)
	if member == "" {
		return fmt.Errorf("%w: member is required", ErrInvalid)
	}
	op, kind, name := permission.RemoveMember, model.ActionMemberRemoved, "remove member"
	if add {
		op, kind, name = permission.AddMember, model.ActionMemberAdded, "add member"
	}
	return e.mutate(ctx, name, func(snap model.Snapshot) (change, error) {
		ci, ki, err := findCard(snap, cardID)
		if err != nil {
			return change{}, err
		}
		if err := e.authorize(op, permission.Context{Visibility: snap.Columns[ci].Visibility}); err != nil {
			return change{}, err
		}
		card := snap.Columns[ci].Cards[ki]
		present := slices.Contains(card.Members, member)
		if present == add {
			return change{noop: true}, nil
		}
		var members []string
		if add {
			members = model.NormalizeRefs(append(slices.Clone(card.Members), member))
		} else {
			members = model.NormalizeRefs(ordering.Remove(card.Members, member))
		}
		patch := model.CardPatch{Members: &members}
		snap.Columns[ci].Cards[ki] = patch.Apply(card, e.now())
		return e.cardChange(snap, cardID, patch, pendingRecord{cardID: cardID, kind: kind, detail: ledger.MemberDetail(member)}), nil
	})
}

// AddAttachment stores att as an opaque reference on cardID.
func (e *Engine) AddAttachment(ctx context.Context, cardID string, att model.Attachment) error {
	if strings.TrimSpace(att.ID) == "" {
		return fmt.Errorf("%w: attachment id is required", ErrInvalid)
	}
	return e.mutate(ctx, "add attachment", func(snap model.Snapshot) (change, error) {
		ci, ki, err := findCard(snap, cardID)
		if err != nil {
			return change{}, err
		}
		if err := e.authorize(permission.EditCard, permission.Context{Visibility: snap.Columns[ci].Visibility}); err != nil {
			return change{}, err
		}
		card := snap.Columns[ci].Cards[ki]
		if attachmentIndex(card.Attachments, att.ID) >= 0 {
			return change{noop: true}, nil
		}
		attachments := append(slices.Clone(card.Attachments), att)
		patch := model.CardPatch{Attachments: &attachments}
		snap.Columns[ci].Cards[ki] = patch.Apply(card, e.now())
		return e.cardChange(snap, cardID, patch, pendingRecord{cardID: cardID, kind: model.ActionAttachmentAdded, detail: ledger.AttachmentDetail(att)}), nil
	})
}

// RemoveAttachment drops the attachment reference attachmentID from cardID.
func (e *Engine) RemoveAttachment(ctx context.Context, cardID, attachmentID string) error {
	return e.mutate(ctx, "remove attachment", func(snap model.Snapshot) (change, error) {
		ci, ki, err := findCard(snap, cardID)
		if err != nil {
			return change{}, err
		}
		if err := e.authorize(permission.EditCard, permission.Context{Visibility: snap.Columns[ci].Visibility}); err != nil {
			return change{}, err
		}
		card := snap.Columns[ci].Cards[ki]
		at := attachmentIndex(card.Attachments, attachmentID)
		if at < 0 {
			return change{}, fmt.Errorf("%w: attachment %s", ErrNotFound, attachmentID)
		}
		removed := card.Attachments[at]
		attachments := slices.Delete(slices.Clone(card.Attachments), at, at+1)
		patch := model.CardPatch{Attachments: &attachments}
		snap.Columns[ci].Cards[ki] = patch.Apply(card, e.now())
		return e.cardChange(snap, cardID, patch, pendingRecord{cardID: cardID, kind: model.ActionAttachmentRemoved, detail: ledger.AttachmentDetail(removed)}), nil
	})
}

func attachmentIndex(atts []model.Attachment, id string) int {
	return slices.IndexFunc(atts, func(a model.Attachment) bool { return a.ID == id })
}
