// Package crm syncs qualified leads to the board-style CRM over its
// GraphQL API. Upserts are idempotent by phone number: the board is the
// source of truth for whether a lead row already exists.
package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"salesbot_backend/platform/config"
	"salesbot_backend/platform/logger"
	"salesbot_backend/platform/retry"
	"salesbot_backend/platform/sanitize"
)

const apiURL = "https://api.monday.com/v2"

// Lead identifies a contact on the board.
type Lead struct {
	Phone string
	Name  string
}

// Client talks to the CRM board. A nil client drops syncs silently, which
// keeps the bot functional when no CRM is configured.
type Client struct {
	endpoint     string
	apiKey       string
	boardID      string
	phoneColumn  string
	statusColumn string
	http         *http.Client
	log          *logger.Logger

	// The group cache is shared across conversations; UpsertLead only
	// serializes calls for the same conversation upstream.
	groupMu    sync.Mutex
	groupID    string // cached id of the current month group
	groupTitle string
}

// NewClient creates a CRM client. Returns nil when the CRM is not
// configured.
func NewClient(cfg config.CRMConfig, log *logger.Logger) *Client {
	if !cfg.IsCRMEnabled() {
		return nil
	}
	return &Client{
		endpoint:     apiURL,
		apiKey:       cfg.GetCRMAPIKey(),
		boardID:      cfg.GetCRMBoardID(),
		phoneColumn:  cfg.GetCRMPhoneColumn(),
		statusColumn: cfg.GetCRMStatusColumn(),
		http:         &http.Client{Timeout: 30 * time.Second},
		log:          log,
	}
}

type gqlRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables,omitempty"`
}

type gqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// UpsertLead creates or updates the board row for the lead and appends the
// note as an update. Returns the board item id.
func (c *Client) UpsertLead(ctx context.Context, lead Lead, stageLabel, note string, fields map[string]string) (string, error) {
	if c == nil {
		return "", nil
	}

	phone := sanitizePhone(lead.Phone)
	if phone == "" {
		return "", retry.Permanent(fmt.Errorf("lead has no phone"))
	}

	itemID, err := c.findByPhone(ctx, phone)
	if err != nil {
		return "", err
	}

	columns := map[string]string{c.phoneColumn: phone}
	if stageLabel != "" {
		columns[c.statusColumn] = stageLabel
	}
	for k, v := range fields {
		columns[k] = v
	}

	if itemID == "" {
		itemID, err = c.createItem(ctx, lead, columns)
	} else {
		err = c.updateItem(ctx, itemID, columns)
	}
	if err != nil {
		return "", err
	}

	if note != "" {
		if err := c.addNote(ctx, itemID, note); err != nil {
			// The row is synced; a lost note is not worth failing the event.
			c.log.UpstreamError("crm", "add_note", err)
		}
	}

	c.log.Info("crm lead synced", "item_id", itemID, "stage", stageLabel)
	return itemID, nil
}

func (c *Client) findByPhone(ctx context.Context, phone string) (string, error) {
	const query = `query ($board: ID!, $column: String!, $value: String!) {
  items_page_by_column_values(board_id: $board, columns: [{column_id: $column, column_values: [$value]}], limit: 1) {
    items { id }
  }
}`

	raw, err := c.do(ctx, gqlRequest{Query: query, Variables: map[string]interface{}{
		"board":  c.boardID,
		"column": c.phoneColumn,
		"value":  phone,
	}})
	if err != nil {
		return "", err
	}

	var data struct {
		ItemsPage struct {
			Items []struct {
				ID string `json:"id"`
			} `json:"items"`
		} `json:"items_page_by_column_values"`
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		return "", retry.Permanent(fmt.Errorf("decode find response: %w", err))
	}
	if len(data.ItemsPage.Items) == 0 {
		return "", nil
	}
	return data.ItemsPage.Items[0].ID, nil
}

func (c *Client) createItem(ctx context.Context, lead Lead, columns map[string]string) (string, error) {
	groupID, err := c.ensureMonthGroup(ctx)
	if err != nil {
		return "", err
	}

	columnValues, err := json.Marshal(columns)
	if err != nil {
		return "", retry.Permanent(err)
	}

	name := strings.TrimSpace(sanitize.Text(lead.Name))
	if name == "" {
		name = lead.Phone
	}

	const mutation = `mutation ($board: ID!, $group: String!, $name: String!, $values: JSON!) {
  create_item(board_id: $board, group_id: $group, item_name: $name, column_values: $values) { id }
}`

	raw, err := c.do(ctx, gqlRequest{Query: mutation, Variables: map[string]interface{}{
		"board":  c.boardID,
		"group":  groupID,
		"name":   name,
		"values": string(columnValues),
	}})
	if err != nil {
		return "", err
	}

	var data struct {
		CreateItem struct {
			ID string `json:"id"`
		} `json:"create_item"`
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		return "", retry.Permanent(fmt.Errorf("decode create response: %w", err))
	}
	return data.CreateItem.ID, nil
}

func (c *Client) updateItem(ctx context.Context, itemID string, columns map[string]string) error {
	columnValues, err := json.Marshal(columns)
	if err != nil {
		return retry.Permanent(err)
	}

	const mutation = `mutation ($board: ID!, $item: ID!, $values: JSON!) {
  change_multiple_column_values(board_id: $board, item_id: $item, column_values: $values) { id }
}`

	_, err = c.do(ctx, gqlRequest{Query: mutation, Variables: map[string]interface{}{
		"board":  c.boardID,
		"item":   itemID,
		"values": string(columnValues),
	}})
	return err
}

func (c *Client) addNote(ctx context.Context, itemID, note string) error {
	const mutation = `mutation ($item: ID!, $body: String!) {
  create_update(item_id: $item, body: $body) { id }
}`

	_, err := c.do(ctx, gqlRequest{Query: mutation, Variables: map[string]interface{}{
		"item": itemID,
		"body": sanitize.Text(note),
	}})
	return err
}

// ensureMonthGroup resolves the board group for the current month
// ("AGOSTO 2026"), creating it when missing. The id is cached per month
// title, so a rollover forces a fresh lookup. The lock is held across the
// lookup so concurrent misses cannot create the group twice.
func (c *Client) ensureMonthGroup(ctx context.Context) (string, error) {
	c.groupMu.Lock()
	defer c.groupMu.Unlock()

	title := monthGroupTitle(time.Now())

	if c.groupID != "" && c.groupTitle == title {
		return c.groupID, nil
	}

	const query = `query ($board: [ID!]) {
  boards(ids: $board) { groups { id title } }
}`

	raw, err := c.do(ctx, gqlRequest{Query: query, Variables: map[string]interface{}{
		"board": []string{c.boardID},
	}})
	if err != nil {
		return "", err
	}

	var data struct {
		Boards []struct {
			Groups []struct {
				ID    string `json:"id"`
				Title string `json:"title"`
			} `json:"groups"`
		} `json:"boards"`
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		return "", retry.Permanent(fmt.Errorf("decode groups response: %w", err))
	}

	for _, board := range data.Boards {
		for _, group := range board.Groups {
			if strings.EqualFold(group.Title, title) {
				c.groupID = group.ID
				c.groupTitle = title
				return group.ID, nil
			}
		}
	}

	const mutation = `mutation ($board: ID!, $title: String!) {
  create_group(board_id: $board, group_name: $title) { id }
}`

	raw, err = c.do(ctx, gqlRequest{Query: mutation, Variables: map[string]interface{}{
		"board": c.boardID,
		"title": title,
	}})
	if err != nil {
		return "", err
	}

	var created struct {
		CreateGroup struct {
			ID string `json:"id"`
		} `json:"create_group"`
	}
	if err := json.Unmarshal(raw, &created); err != nil {
		return "", retry.Permanent(fmt.Errorf("decode create group response: %w", err))
	}
	c.groupID = created.CreateGroup.ID
	c.groupTitle = title
	return c.groupID, nil
}

func (c *Client) do(ctx context.Context, reqBody gqlRequest) (json.RawMessage, error) {
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, retry.Permanent(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewBuffer(body))
	if err != nil {
		return nil, retry.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, retry.Transient(fmt.Errorf("crm request failed: %w", err))
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return nil, retry.ClassifyHTTP(resp.StatusCode, resp.Header.Get("Retry-After"),
			fmt.Errorf("crm returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data))))
	}

	var parsed gqlResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, retry.Permanent(fmt.Errorf("decode crm response: %w", err))
	}
	if len(parsed.Errors) > 0 {
		msg := parsed.Errors[0].Message
		if strings.Contains(strings.ToLower(msg), "complexity") {
			return nil, retry.Transient(fmt.Errorf("crm rate limited: %s", msg))
		}
		return nil, retry.Permanent(fmt.Errorf("crm query failed: %s", msg))
	}
	return parsed.Data, nil
}

// sanitizePhone reduces a phone to bare digits, matching how numbers are
// stored in the board's text column.
func sanitizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

var spanishMonths = [...]string{
	"ENERO", "FEBRERO", "MARZO", "ABRIL", "MAYO", "JUNIO",
	"JULIO", "AGOSTO", "SEPTIEMBRE", "OCTUBRE", "NOVIEMBRE", "DICIEMBRE",
}

func monthGroupTitle(now time.Time) string {
	return fmt.Sprintf("%s %d", spanishMonths[now.Month()-1], now.Year())
}
