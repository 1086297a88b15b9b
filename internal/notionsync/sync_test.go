package notionsync

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jomei/notionapi"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"

	"github.com/dvloznov/order-ledger/internal/domain"
)

// mockNotion keeps created pages in memory and serves them back in pages of
// pageSize results.
type mockNotion struct {
	pages     []notionapi.Page
	archived  []string
	pageSize  int
	createErr map[string]error
	queryErr  error
	queries   int
}

func (m *mockNotion) CreatePage(ctx context.Context, databaseID string, properties notionapi.Properties) (*notionapi.Page, error) {
	if oid, ok := properties[PropOrderID].(notionapi.RichTextProperty); ok {
		if err := m.createErr[oid.RichText[0].Text.Content]; err != nil {
			return nil, err
		}
	}
	// Pages come back from a query with pointer properties and PlainText set.
	stored := notionapi.Properties{}
	if rk, ok := properties[PropRowKey].(notionapi.RichTextProperty); ok {
		stored[PropRowKey] = &notionapi.RichTextProperty{
			RichText: []notionapi.RichText{{PlainText: rk.RichText[0].Text.Content}},
		}
	}
	page := notionapi.Page{ID: notionapi.ObjectID(fmt.Sprintf("page-%d", len(m.pages)+1)), Properties: stored}
	m.pages = append(m.pages, page)
	return &page, nil
}

func (m *mockNotion) QueryDatabase(ctx context.Context, databaseID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
	m.queries++
	if m.queryErr != nil {
		return nil, m.queryErr
	}
	size := m.pageSize
	if size <= 0 {
		size = len(m.pages) + 1
	}
	start := 0
	if req.StartCursor != "" {
		fmt.Sscanf(string(req.StartCursor), "%d", &start)
	}
	end := start + size
	if end > len(m.pages) {
		end = len(m.pages)
	}
	resp := &notionapi.DatabaseQueryResponse{Results: append([]notionapi.Page(nil), m.pages[start:end]...)}
	if end < len(m.pages) {
		resp.HasMore = true
		resp.NextCursor = notionapi.Cursor(fmt.Sprintf("%d", end))
	}
	return resp, nil
}

func (m *mockNotion) ArchivePage(ctx context.Context, pageID string) error {
	m.archived = append(m.archived, pageID)
	return nil
}

func row(id, date, amount string) domain.LedgerRow {
	d, _ := time.Parse(domain.DateLayout, date)
	v := decimal.RequireFromString(amount)
	return domain.LedgerRow{
		Date:        date,
		Amount:      domain.FormatAmount(v),
		Description: "Order " + id,
		Currency:    "EUR",
		OrderID:     id,
		OrderDate:   d,
		Value:       v,
	}
}

func TestLedgerRowToNotionProperties(t *testing.T) {
	r := row("A1", "2023-03-12", "-25.50")
	r.Category = "Electronics"
	r.Tags = []string{"amazon", domain.TagAmbiguousDuplicate}
	r.Ambiguous = true

	props := LedgerRowToNotionProperties(r)

	title, ok := props[PropDescription].(notionapi.TitleProperty)
	if !ok || title.Title[0].Text.Content != "Order A1" {
		t.Errorf("Description = %+v", props[PropDescription])
	}
	amount, ok := props[PropAmount].(notionapi.NumberProperty)
	if !ok || amount.Number != -25.5 {
		t.Errorf("Amount = %+v", props[PropAmount])
	}
	date, ok := props[PropDate].(notionapi.DateProperty)
	if !ok || time.Time(*date.Date.Start).Format(domain.DateLayout) != "2023-03-12" {
		t.Errorf("Date = %+v", props[PropDate])
	}
	cat, ok := props[PropCategory].(notionapi.SelectProperty)
	if !ok || cat.Select.Name != "Electronics" {
		t.Errorf("Category = %+v", props[PropCategory])
	}
	tags, ok := props[PropTags].(notionapi.MultiSelectProperty)
	if !ok || len(tags.MultiSelect) != 2 {
		t.Errorf("Tags = %+v", props[PropTags])
	}
	if cb, ok := props[PropAmbiguous].(notionapi.CheckboxProperty); !ok || !cb.Checkbox {
		t.Errorf("Ambiguous = %+v", props[PropAmbiguous])
	}
	if rk, ok := props[PropRowKey].(notionapi.RichTextProperty); !ok || rk.RichText[0].Text.Content != r.Key() {
		t.Errorf("Row Key = %+v", props[PropRowKey])
	}
}

func TestLedgerRowToNotionProperties_OmitsEmptyOptional(t *testing.T) {
	props := LedgerRowToNotionProperties(row("A1", "2023-03-12", "-1"))
	if _, ok := props[PropCategory]; ok {
		t.Error("Expected no Category property for an uncategorised row")
	}
	if _, ok := props[PropTags]; ok {
		t.Error("Expected no Tags property for a row without tags")
	}
}

func TestSyncLedger_CreatesOnlyMissingRows(t *testing.T) {
	svc := &mockNotion{pageSize: 1}
	rows := []domain.LedgerRow{row("A1", "2023-01-01", "-1"), row("A2", "2023-01-02", "-2")}
	ctx := context.Background()

	first, err := SyncLedger(ctx, svc, "db", rows, false, false)
	if err != nil {
		t.Fatalf("SyncLedger() error = %v", err)
	}
	if first.Created != 2 || first.Skipped != 0 {
		t.Errorf("first sync = %+v", first)
	}

	rows = append(rows, row("A3", "2023-01-03", "-3"))
	second, err := SyncLedger(ctx, svc, "db", rows, false, false)
	if err != nil {
		t.Fatalf("SyncLedger() error = %v", err)
	}
	if second.Created != 1 || second.Skipped != 2 {
		t.Errorf("second sync = %+v", second)
	}
	if len(svc.pages) != 3 {
		t.Errorf("database holds %d pages, want 3", len(svc.pages))
	}
	// Two existing pages with a page size of one need more than one query.
	if svc.queries < 3 {
		t.Errorf("Expected paginated queries, got %d", svc.queries)
	}
}

func TestSyncLedger_DryRun(t *testing.T) {
	svc := &mockNotion{}
	res, err := SyncLedger(context.Background(), svc, "db", []domain.LedgerRow{row("A1", "2023-01-01", "-1")}, false, true)
	if err != nil {
		t.Fatalf("SyncLedger() error = %v", err)
	}
	if res.Created != 1 || len(svc.pages) != 0 {
		t.Errorf("dry run created pages: result %+v, pages %d", res, len(svc.pages))
	}
}

func TestSyncLedger_ContinuesAfterCreateFailure(t *testing.T) {
	svc := &mockNotion{createErr: map[string]error{"A1": errors.New("rate limited")}}
	rows := []domain.LedgerRow{row("A1", "2023-01-01", "-1"), row("A2", "2023-01-02", "-2")}

	res, err := SyncLedger(context.Background(), svc, "db", rows, false, false)
	if err != nil {
		t.Fatalf("SyncLedger() error = %v", err)
	}
	if res.Failed != 1 || res.Created != 1 {
		t.Errorf("Unexpected result: %+v", res)
	}
}

func TestSyncLedger_Prune(t *testing.T) {
	svc := &mockNotion{}
	ctx := context.Background()
	old := []domain.LedgerRow{row("A1", "2023-01-01", "-1"), row("A2", "2023-01-02", "-2")}
	if _, err := SyncLedger(ctx, svc, "db", old, false, false); err != nil {
		t.Fatal(err)
	}

	res, err := SyncLedger(ctx, svc, "db", old[1:], true, false)
	if err != nil {
		t.Fatalf("SyncLedger() error = %v", err)
	}
	if res.Archived != 1 || len(svc.archived) != 1 || svc.archived[0] != "page-1" {
		t.Errorf("Unexpected prune: result %+v, archived %v", res, svc.archived)
	}
}

func TestSyncLedger_QueryError(t *testing.T) {
	boom := errors.New("unauthorized")
	_, err := SyncLedger(context.Background(), &mockNotion{queryErr: boom}, "db", nil, false, false)
	if !errors.Is(err, boom) {
		t.Errorf("Expected query error, got %v", err)
	}
}

func TestSyncLedger_StopsWhenBreakerOpens(t *testing.T) {
	open := fmt.Errorf("CreatePage: %w", gobreaker.ErrOpenState)
	svc := &mockNotion{createErr: map[string]error{"A2": open}}
	rows := []domain.LedgerRow{row("A1", "2023-01-01", "-1"), row("A2", "2023-01-02", "-2"), row("A3", "2023-01-03", "-3")}

	res, err := SyncLedger(context.Background(), svc, "db", rows, false, false)
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("SyncLedger() error = %v, want open breaker", err)
	}
	if res == nil || res.Created != 1 || len(svc.pages) != 1 {
		t.Errorf("Expected the sync to stop after the first row, got %+v", res)
	}
}

func TestNewBreaker_TripsOnConsecutiveFailures(t *testing.T) {
	cb := newBreaker("test")
	fail := func() (interface{}, error) { return nil, errors.New("503") }

	for i := 0; i < breakerTripAfter; i++ {
		if _, err := cb.Execute(fail); errors.Is(err, gobreaker.ErrOpenState) {
			t.Fatalf("breaker opened after %d failures", i)
		}
	}
	if _, err := cb.Execute(fail); !errors.Is(err, gobreaker.ErrOpenState) {
		t.Errorf("Execute() error = %v, want ErrOpenState", err)
	}
}
