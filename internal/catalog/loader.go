// Package catalog maintains a cached snapshot of the product sheet the bot
// quotes from. The sheet is published as CSV and refreshed on an interval;
// readers only ever see a complete snapshot.
package catalog

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"salesbot_backend/platform/config"
	"salesbot_backend/platform/logger"
	"salesbot_backend/platform/retry"
)

// Item is one row of the product sheet.
type Item struct {
	Model         string
	Price         string
	DownPayment   string
	WeeklyPayment string
	Photos        []string
	SpecSheetURL  string
	FinancingURL  string
}

// Loader fetches the sheet and serves snapshots.
type Loader struct {
	url      string
	interval time.Duration
	http     *http.Client
	log      *logger.Logger

	mu        sync.RWMutex
	items     []Item
	loadedAt  time.Time
	loadError error
}

// NewLoader creates a loader for the configured sheet. Returns a loader
// with an empty snapshot when no URL is configured.
func NewLoader(cfg config.CatalogConfig, log *logger.Logger) *Loader {
	return &Loader{
		url:      cfg.GetCatalogURL(),
		interval: cfg.GetCatalogRefreshInterval(),
		http:     &http.Client{Timeout: 20 * time.Second},
		log:      log,
	}
}

// Refresh fetches and replaces the snapshot once.
func (l *Loader) Refresh(ctx context.Context) error {
	if l.url == "" {
		return nil
	}

	items, err := l.fetch(ctx)
	l.mu.Lock()
	defer l.mu.Unlock()
	if err != nil {
		l.loadError = err
		return err
	}
	l.items = items
	l.loadedAt = time.Now()
	l.loadError = nil
	l.log.Info("catalog refreshed", "items", len(items))
	return nil
}

// Run refreshes the snapshot on the configured interval until ctx ends.
func (l *Loader) Run(ctx context.Context) error {
	if l.url == "" || l.interval <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := l.Refresh(ctx); err != nil {
				l.log.UpstreamError("catalog", "refresh", err)
			}
		}
	}
}

// Snapshot returns the current items. The slice must not be mutated.
func (l *Loader) Snapshot() []Item {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.items
}

// ItemCount returns the snapshot size, for health reporting.
func (l *Loader) ItemCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.items)
}

// FindModel returns the catalog item whose model name contains the query
// (case-insensitive), or nil when nothing matches.
func (l *Loader) FindModel(query string) *Item {
	needle := strings.ToLower(strings.TrimSpace(query))
	if needle == "" {
		return nil
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	for i := range l.items {
		model := strings.ToLower(l.items[i].Model)
		if strings.Contains(model, needle) || strings.Contains(needle, model) {
			return &l.items[i]
		}
	}
	return nil
}

// PromptSummary renders the snapshot as compact text for the reply
// generator's context.
func (l *Loader) PromptSummary() string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if len(l.items) == 0 {
		return ""
	}

	var b strings.Builder
	for _, item := range l.items {
		fmt.Fprintf(&b, "- %s: precio %s, enganche %s, semanal %s\n",
			item.Model, item.Price, item.DownPayment, item.WeeklyPayment)
	}
	return b.String()
}

func (l *Loader) fetch(ctx context.Context) ([]Item, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := l.http.Do(req)
	if err != nil {
		return nil, retry.Transient(fmt.Errorf("fetch catalog: %w", err))
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, retry.ClassifyHTTP(resp.StatusCode, resp.Header.Get("Retry-After"),
			fmt.Errorf("catalog sheet returned %d", resp.StatusCode))
	}

	return parseCSV(resp.Body)
}

// parseCSV reads the published sheet. Expected header columns: modelo,
// precio, enganche, semanal, fotos (pipe-separated URLs), ficha, corrida.
// Unknown columns are ignored; rows without a model name are skipped.
func parseCSV(r io.Reader) ([]Item, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read catalog header: %w", err)
	}

	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	if _, ok := col["modelo"]; !ok {
		return nil, fmt.Errorf("catalog sheet missing 'modelo' column")
	}

	field := func(record []string, name string) string {
		idx, ok := col[name]
		if !ok || idx >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[idx])
	}

	var items []Item
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read catalog row: %w", err)
		}

		model := field(record, "modelo")
		if model == "" {
			continue
		}

		var photos []string
		for _, raw := range strings.Split(field(record, "fotos"), "|") {
			if url := strings.TrimSpace(raw); url != "" {
				photos = append(photos, url)
			}
		}

		items = append(items, Item{
			Model:         model,
			Price:         field(record, "precio"),
			DownPayment:   field(record, "enganche"),
			WeeklyPayment: field(record, "semanal"),
			Photos:        photos,
			SpecSheetURL:  field(record, "ficha"),
			FinancingURL:  field(record, "corrida"),
		})
	}
	return items, nil
}
