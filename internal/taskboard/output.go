package taskboard

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/simonjohansson/taskboard/internal/engine"
	"github.com/simonjohansson/taskboard/internal/ledger"
	"github.com/simonjohansson/taskboard/internal/model"
	"github.com/simonjohansson/taskboard/internal/storeclient"
)

type Output string

const (
	OutputText Output = "text"
	OutputJSON Output = "json"
)

type cliError struct {
	status  int
	message string
}

func (e *cliError) Error() string {
	return e.message
}

func isValidOutput(v string) bool {
	return v == string(OutputText) || v == string(OutputJSON)
}

func FormatError(output Output, status int, message string) string {
	msg := strings.TrimSpace(message)
	if msg == "" {
		msg = http.StatusText(status)
	}

	if output == OutputJSON {
		raw, _ := json.Marshal(map[string]any{
			"status": status,
			"error":  msg,
		})
		return string(raw)
	}

	return fmt.Sprintf("error (%d): %s", status, msg)
}

// toCLIError maps engine and store client failures onto exit statuses.
func toCLIError(err error) error {
	if err == nil {
		return nil
	}
	var cErr *cliError
	if errors.As(err, &cErr) {
		return cErr
	}

	switch {
	case errors.Is(err, engine.ErrDenied):
		return &cliError{status: http.StatusForbidden, message: err.Error()}
	case errors.Is(err, engine.ErrNotFound):
		return &cliError{status: http.StatusNotFound, message: err.Error()}
	case errors.Is(err, engine.ErrColumnFull):
		return &cliError{status: http.StatusConflict, message: err.Error()}
	case errors.Is(err, engine.ErrInvalid):
		return &cliError{status: http.StatusBadRequest, message: err.Error()}
	}

	var statusErr *storeclient.StatusError
	if errors.As(err, &statusErr) {
		msg := statusErr.Message
		if msg == "" {
			msg = err.Error()
		}
		return &cliError{status: statusErr.Status, message: msg}
	}
	return &cliError{status: http.StatusBadGateway, message: err.Error()}
}

// writeResult prints v as compact json, or text() in text mode.
func writeResult(output Output, stdout io.Writer, v any, text func() string) error {
	if output == OutputJSON {
		raw, err := json.Marshal(v)
		if err != nil {
			return &cliError{status: http.StatusInternalServerError, message: err.Error()}
		}
		_, _ = fmt.Fprintln(stdout, string(raw))
		return nil
	}
	_, _ = fmt.Fprintln(stdout, text())
	return nil
}

func formatSnapshot(snap model.Snapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s)", snap.Board.Name, snap.Board.ID)
	for _, col := range snap.Columns {
		limit := ""
		if col.CardLimit != nil {
			limit = fmt.Sprintf(" %d/%d", len(col.Cards), *col.CardLimit)
		}
		fmt.Fprintf(&b, "\n%d. %s [%s] %s%s", col.Position, col.Title, col.ID, col.Visibility, limit)
		for _, card := range col.Cards {
			fmt.Fprintf(&b, "\n   %d. %s [%s]", card.Position, card.Title, card.ID)
			if len(card.Members) > 0 {
				fmt.Fprintf(&b, " members=%s", strings.Join(card.Members, ","))
			}
		}
	}
	return b.String()
}

func formatCard(card model.Card) string {
	line := fmt.Sprintf("%s [%s] column=%s position=%d", card.Title, card.ID, card.ColumnID, card.Position)
	if card.DueAt != nil {
		line += " due=" + card.DueAt.Format("2006-01-02T15:04:05Z07:00")
	}
	if len(card.Labels) > 0 {
		line += " labels=" + strings.Join(card.Labels, ",")
	}
	return line
}

func formatColumn(col model.Column) string {
	line := fmt.Sprintf("%s [%s] visibility=%s position=%d", col.Title, col.ID, col.Visibility, col.Position)
	if col.CardLimit != nil {
		line += fmt.Sprintf(" limit=%d", *col.CardLimit)
	}
	return line
}

type historyLine struct {
	ID          string           `json:"id"`
	Kind        model.ActionKind `json:"kind"`
	ActorID     string           `json:"actor_id"`
	ActorName   string           `json:"actor_name"`
	CreatedAt   string           `json:"created_at"`
	Detail      *ledger.Detail   `json:"detail,omitempty"`
	Unparseable bool             `json:"unparseable,omitempty"`
}

func historyLines(entries []ledger.Entry) []historyLine {
	out := make([]historyLine, 0, len(entries))
	for _, entry := range entries {
		line := historyLine{
			ID:          entry.Record.ID,
			Kind:        entry.Record.Kind,
			ActorID:     entry.Record.ActorID,
			ActorName:   entry.Record.ActorName,
			CreatedAt:   entry.Record.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
			Unparseable: entry.Unparseable,
		}
		if !entry.Unparseable {
			detail := entry.Detail
			line.Detail = &detail
		}
		out = append(out, line)
	}
	return out
}

func formatHistory(lines []historyLine) string {
	if len(lines) == 0 {
		return "(no history)"
	}
	rows := make([]string, 0, len(lines))
	for _, l := range lines {
		actor := l.ActorName
		if actor == "" {
			actor = l.ActorID
		}
		row := fmt.Sprintf("%s %s by %s", l.CreatedAt, l.Kind, actor)
		switch {
		case l.Unparseable:
			row += " (unreadable detail)"
		case l.Detail != nil:
			row += describeDetail(*l.Detail)
		}
		rows = append(rows, row)
	}
	return strings.Join(rows, "\n")
}

func describeDetail(d ledger.Detail) string {
	switch {
	case d.ToColumnID != "":
		return fmt.Sprintf(": %s -> %s", nonEmpty(d.FromColumnTitle, d.FromColumnID), nonEmpty(d.ToColumnTitle, d.ToColumnID))
	case d.Field != "":
		return fmt.Sprintf(": %s %q -> %q", d.Field, d.Old, d.New)
	case d.Member != "":
		return ": " + d.Member
	case d.Attachment != nil:
		return ": " + d.Attachment.ID
	case d.Title != "":
		return fmt.Sprintf(": %q", d.Title)
	default:
		return ""
	}
}

func nonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// FormatWatchLine renders one websocket event.
func FormatWatchLine(output Output, event map[string]any) (string, error) {
	if output == OutputJSON {
		raw, err := json.Marshal(event)
		if err != nil {
			return "", err
		}
		return string(raw), nil
	}

	parts := make([]string, 0, 5)
	for _, key := range []string{"type", "board", "column_id", "card_id", "viewer_id"} {
		if value, ok := event[key]; ok && fmt.Sprintf("%v", value) != "" {
			parts = append(parts, fmt.Sprintf("%s=%v", key, value))
		}
	}
	if len(parts) == 0 {
		return "(event)", nil
	}

	return strings.Join(parts, " "), nil
}
