package catalog

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"salesbot_backend/platform/logger"
)

const sheetCSV = `modelo,precio,enganche,semanal,fotos,ficha,corrida
250Z,"$48,999","$3,500","$899",https://cdn.example.com/250z-1.jpg|https://cdn.example.com/250z-2.jpg,https://cdn.example.com/250z-ficha.pdf,https://cdn.example.com/250z-corrida.pdf
VORT-X 300,"$52,999","$4,000","$999",https://cdn.example.com/vortx-1.jpg,,
,ignored,row,without,model,,
DM 200,"$39,999","$2,900","$749",,https://cdn.example.com/dm200-ficha.pdf,
`

type stubCatalogConfig struct {
	url      string
	interval time.Duration
}

func (s stubCatalogConfig) GetCatalogURL() string                    { return s.url }
func (s stubCatalogConfig) GetCatalogRefreshInterval() time.Duration { return s.interval }

func newTestLoader(t *testing.T, csvBody string) *Loader {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/csv")
		_, _ = w.Write([]byte(csvBody))
	}))
	t.Cleanup(server.Close)

	return NewLoader(stubCatalogConfig{url: server.URL, interval: time.Minute}, logger.New("development"))
}

func TestRefreshParsesSheet(t *testing.T) {
	loader := newTestLoader(t, sheetCSV)
	if err := loader.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	items := loader.Snapshot()
	if len(items) != 3 {
		t.Fatalf("len(items) = %d, want 3 (blank model row skipped)", len(items))
	}

	first := items[0]
	if first.Model != "250Z" || first.Price != "$48,999" || first.WeeklyPayment != "$899" {
		t.Errorf("first item = %+v", first)
	}
	if len(first.Photos) != 2 {
		t.Errorf("photos = %v, want 2 urls", first.Photos)
	}
	if first.SpecSheetURL == "" || first.FinancingURL == "" {
		t.Errorf("document urls missing: %+v", first)
	}
	if loader.ItemCount() != 3 {
		t.Errorf("ItemCount = %d", loader.ItemCount())
	}
}

func TestFindModel(t *testing.T) {
	loader := newTestLoader(t, sheetCSV)
	if err := loader.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	tests := []struct {
		query string
		want  string
	}{
		{query: "250z", want: "250Z"},
		{query: "la vort-x 300 roja", want: "VORT-X 300"},
		{query: "dm 200", want: "DM 200"},
	}
	for _, tc := range tests {
		item := loader.FindModel(tc.query)
		if item == nil {
			t.Errorf("FindModel(%q) = nil", tc.query)
			continue
		}
		if item.Model != tc.want {
			t.Errorf("FindModel(%q) = %s, want %s", tc.query, item.Model, tc.want)
		}
	}

	if loader.FindModel("vespa") != nil {
		t.Error("FindModel matched a model not in the sheet")
	}
	if loader.FindModel("") != nil {
		t.Error("FindModel matched the empty query")
	}
}

func TestPromptSummary(t *testing.T) {
	loader := newTestLoader(t, sheetCSV)
	if err := loader.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	summary := loader.PromptSummary()
	if !strings.Contains(summary, "250Z") || !strings.Contains(summary, "$899") {
		t.Errorf("summary missing data:\n%s", summary)
	}
}

func TestRefreshKeepsOldSnapshotOnFailure(t *testing.T) {
	fail := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(sheetCSV))
	}))
	defer server.Close()

	loader := NewLoader(stubCatalogConfig{url: server.URL, interval: time.Minute}, logger.New("development"))
	if err := loader.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	fail = true
	if err := loader.Refresh(context.Background()); err == nil {
		t.Fatal("expected refresh failure")
	}
	if loader.ItemCount() != 3 {
		t.Errorf("snapshot lost after failed refresh: %d items", loader.ItemCount())
	}
}

func TestRefreshRejectsSheetWithoutModelColumn(t *testing.T) {
	loader := newTestLoader(t, "a,b,c\n1,2,3\n")
	if err := loader.Refresh(context.Background()); err == nil {
		t.Error("expected error for sheet without modelo column")
	}
}
