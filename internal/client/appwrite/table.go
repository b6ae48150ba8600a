package appwrite

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/atinyakov/HabitKeeper/internal/models"
)

// pageSize is the number of rows requested per list call.
const pageSize = 100

// ownerAttribute is the column holding the owning user id.
const ownerAttribute = "user_id"

// Table addresses one habits table and implements the row operations the
// habit sync consumes.
type Table struct {
	client     *Client
	databaseID string
	tableID    string
}

// Table returns a handle on databaseID/tableID.
func (c *Client) Table(databaseID, tableID string) *Table {
	return &Table{client: c, databaseID: databaseID, tableID: tableID}
}

// Channel is the realtime channel carrying this table's row events.
func (t *Table) Channel() string {
	return fmt.Sprintf("databases.%s.tables.%s.rows", t.databaseID, t.tableID)
}

func (t *Table) rowsPath() string {
	return fmt.Sprintf("/tablesdb/%s/tables/%s/rows", url.PathEscape(t.databaseID), url.PathEscape(t.tableID))
}

func (t *Table) rowPath(id string) string {
	return t.rowsPath() + "/" + url.PathEscape(id)
}

// habitData is the writable part of a row.
type habitData struct {
	OwnerID       string           `json:"user_id"`
	Title         string           `json:"title"`
	Description   string           `json:"description"`
	Frequency     models.Frequency `json:"frequency"`
	StreakCount   int              `json:"streak_count"`
	LastCompleted *time.Time       `json:"last_completed,omitempty"`
}

type createRowRequest struct {
	RowID string    `json:"rowId"`
	Data  habitData `json:"data"`
}

type updateRowRequest struct {
	Data models.HabitUpdate `json:"data"`
}

type rowList struct {
	Total int            `json:"total"`
	Rows  []models.Habit `json:"rows"`
}

// query is one JSON-encoded query element.
type query struct {
	Method    string `json:"method"`
	Attribute string `json:"attribute,omitempty"`
	Values    []any  `json:"values,omitempty"`
}

func encodeQueries(qs ...query) (url.Values, error) {
	values := url.Values{}
	for _, q := range qs {
		encoded, err := json.Marshal(q)
		if err != nil {
			return nil, fmt.Errorf("appwrite: failed to encode query: %w", err)
		}
		values.Add("queries[]", string(encoded))
	}
	return values, nil
}

// CreateRow inserts habit and returns the stored row. An empty habit.ID is
// replaced by a fresh unique id.
func (t *Table) CreateRow(ctx context.Context, habit models.Habit) (models.Habit, error) {
	rowID := habit.ID
	if rowID == "" {
		rowID = uuid.NewString()
	}

	data := habitData{
		OwnerID:     habit.OwnerID,
		Title:       habit.Title,
		Description: habit.Description,
		Frequency:   habit.Frequency,
		StreakCount: habit.StreakCount,
	}
	if !habit.LastCompleted.IsZero() {
		last := habit.LastCompleted.UTC()
		data.LastCompleted = &last
	}

	body, err := t.client.doRequest(ctx, http.MethodPost, t.rowsPath(), nil, createRowRequest{RowID: rowID, Data: data})
	if err != nil {
		return models.Habit{}, fmt.Errorf("create row: %w", err)
	}

	var created models.Habit
	if err := json.Unmarshal(body, &created); err != nil {
		return models.Habit{}, fmt.Errorf("appwrite: failed to parse row: %w", err)
	}
	return created, nil
}

// ListRows returns every row owned by ownerID in gateway order, following
// pagination until the reported total is reached.
func (t *Table) ListRows(ctx context.Context, ownerID string) ([]models.Habit, error) {
	var rows []models.Habit
	for offset := 0; ; {
		q, err := encodeQueries(
			query{Method: "equal", Attribute: ownerAttribute, Values: []any{ownerID}},
			query{Method: "limit", Values: []any{pageSize}},
			query{Method: "offset", Values: []any{offset}},
		)
		if err != nil {
			return nil, err
		}

		body, err := t.client.doRequest(ctx, http.MethodGet, t.rowsPath(), q, nil)
		if err != nil {
			return nil, fmt.Errorf("list rows: %w", err)
		}

		var page rowList
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, fmt.Errorf("appwrite: failed to parse row list: %w", err)
		}

		rows = append(rows, page.Rows...)
		offset += len(page.Rows)
		if len(page.Rows) == 0 || offset >= page.Total {
			break
		}
	}
	if rows == nil {
		rows = []models.Habit{}
	}
	return rows, nil
}

// UpdateRow applies a partial update and returns the stored row.
func (t *Table) UpdateRow(ctx context.Context, id string, update models.HabitUpdate) (models.Habit, error) {
	if update.LastCompleted != nil {
		utc := update.LastCompleted.UTC()
		update.LastCompleted = &utc
	}
	body, err := t.client.doRequest(ctx, http.MethodPatch, t.rowPath(id), nil, updateRowRequest{Data: update})
	if err != nil {
		return models.Habit{}, fmt.Errorf("update row %s: %w", id, err)
	}

	var updated models.Habit
	if err := json.Unmarshal(body, &updated); err != nil {
		return models.Habit{}, fmt.Errorf("appwrite: failed to parse row: %w", err)
	}
	return updated, nil
}

// DeleteRow removes the row. The gateway rejects ids the session does not
// own with 401/403 and unknown ids with 404.
func (t *Table) DeleteRow(ctx context.Context, id string) error {
	if _, err := t.client.doRequest(ctx, http.MethodDelete, t.rowPath(id), nil, nil); err != nil {
		return fmt.Errorf("delete row %s: %w", id, err)
	}
	return nil
}
