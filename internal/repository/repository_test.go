package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aimms/backend/internal/domain"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := InitDB(":memory:")
	if err != nil {
		t.Fatalf("InitDB failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func activeAlert(msg string, ts time.Time) *domain.Alert {
	return &domain.Alert{
		Type:            domain.AlertTypeSystem,
		Severity:        domain.SeverityMedium,
		Status:          domain.AlertStatusActive,
		Message:         msg,
		Explanation:     "explanation",
		ConfidenceScore: 92,
		Timestamp:       ts,
	}
}

func TestAlertRepoSaveAndFind(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := NewAlertRepo(newTestDB(t))
	base := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

	first, err := repo.Save(ctx, activeAlert("Latency spike", base))
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if first.ID == 0 {
		t.Error("Expected an assigned ID")
	}
	if _, err := repo.Save(ctx, activeAlert("Memory pressure", base.Add(500*time.Millisecond))); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	active, err := repo.FindByStatus(ctx, domain.AlertStatusActive)
	if err != nil {
		t.Fatalf("FindByStatus failed: %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("Expected 2 active alerts, got %d", len(active))
	}
	if active[0].Message != "Memory pressure" {
		t.Errorf("Expected newest first, got %q", active[0].Message)
	}
	if !active[1].Timestamp.Equal(base) {
		t.Errorf("Expected timestamp %v, got %v", base, active[1].Timestamp)
	}

	resolved, err := repo.FindByStatus(ctx, domain.AlertStatusResolved)
	if err != nil {
		t.Fatalf("FindByStatus failed: %v", err)
	}
	if resolved == nil || len(resolved) != 0 {
		t.Errorf("Expected empty non-nil slice, got %#v", resolved)
	}
}

func TestAlertRepoActiveMessageUnique(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := NewAlertRepo(newTestDB(t))
	now := time.Now()

	a, err := repo.Save(ctx, activeAlert("Latency spike", now))
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if _, err := repo.Save(ctx, activeAlert("Latency spike", now)); !errors.Is(err, ErrDuplicateActiveAlert) {
		t.Fatalf("Expected ErrDuplicateActiveAlert, got %v", err)
	}

	resolved, err := repo.Resolve(ctx, a.ID)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if resolved.Status != domain.AlertStatusResolved {
		t.Errorf("Expected RESOLVED, got %s", resolved.Status)
	}

	if _, err := repo.Save(ctx, activeAlert("Latency spike", now)); err != nil {
		t.Errorf("Expected save after resolve to succeed, got %v", err)
	}

	counts, err := repo.CountByStatus(ctx)
	if err != nil {
		t.Fatalf("CountByStatus failed: %v", err)
	}
	if counts["ACTIVE"] != 1 || counts["RESOLVED"] != 1 {
		t.Errorf("Unexpected counts %v", counts)
	}
}

func TestAlertRepoNotFound(t *testing.T) {
	t.Parallel()

	repo := NewAlertRepo(newTestDB(t))
	if _, err := repo.GetByID(context.Background(), 42); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if _, err := repo.Resolve(context.Background(), 42); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound from Resolve, got %v", err)
	}
}

func TestUserRepoAllocatesLowestFreeID(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := NewUserRepo(newTestDB(t))

	for _, id := range []int64{1, 2, 4, 5} {
		u := &domain.User{ID: id, Name: "seed", Email: fmt.Sprintf("seed%d@example.com", id)}
		if _, err := repo.CreateWithNextID(ctx, u); err != nil {
			t.Fatalf("seed user %d: %v", id, err)
		}
	}

	next, err := repo.NextID(ctx)
	if err != nil {
		t.Fatalf("NextID failed: %v", err)
	}
	if next != 3 {
		t.Errorf("Expected next ID 3, got %d", next)
	}

	u, err := repo.CreateWithNextID(ctx, &domain.User{Name: "Ada", Email: "ada@example.com"})
	if err != nil {
		t.Fatalf("CreateWithNextID failed: %v", err)
	}
	if u.ID != 3 {
		t.Errorf("Expected ID 3, got %d", u.ID)
	}

	u, err = repo.CreateWithNextID(ctx, &domain.User{Name: "Grace", Email: "grace@example.com"})
	if err != nil {
		t.Fatalf("CreateWithNextID failed: %v", err)
	}
	if u.ID != 6 {
		t.Errorf("Expected ID 6, got %d", u.ID)
	}

	if err := repo.Delete(ctx, 2); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if next, _ := repo.NextID(ctx); next != 2 {
		t.Errorf("Expected freed ID 2 to be reused, got %d", next)
	}
}

func TestUserRepoEmptyStartsAtOne(t *testing.T) {
	t.Parallel()

	repo := NewUserRepo(newTestDB(t))
	u, err := repo.CreateWithNextID(context.Background(), &domain.User{Name: "Ada", Email: "ada@example.com"})
	if err != nil {
		t.Fatalf("CreateWithNextID failed: %v", err)
	}
	if u.ID != 1 {
		t.Errorf("Expected ID 1, got %d", u.ID)
	}

	got, err := repo.GetByID(context.Background(), 1)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.Email != "ada@example.com" || got.CreatedAt.IsZero() {
		t.Errorf("Unexpected user %+v", got)
	}
}

func TestUserRepoConflicts(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := NewUserRepo(newTestDB(t))

	if _, err := repo.CreateWithNextID(ctx, &domain.User{Name: "Ada", Email: "ada@example.com"}); err != nil {
		t.Fatalf("CreateWithNextID failed: %v", err)
	}
	if _, err := repo.CreateWithNextID(ctx, &domain.User{Name: "Ada 2", Email: "ada@example.com"}); !errors.Is(err, ErrDuplicateEmail) {
		t.Errorf("Expected ErrDuplicateEmail, got %v", err)
	}
	if _, err := repo.CreateWithNextID(ctx, &domain.User{ID: 1, Name: "Bob", Email: "bob@example.com"}); !errors.Is(err, ErrIDConflict) {
		t.Errorf("Expected ErrIDConflict for taken explicit ID, got %v", err)
	}
	if n, _ := repo.Count(ctx); n != 1 {
		t.Errorf("Expected 1 user, got %d", n)
	}
	if err := repo.Delete(ctx, 99); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestUserRepoConcurrentCreatesGetDistinctIDs(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := NewUserRepo(newTestDB(t))

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			u := &domain.User{Name: "user", Email: fmt.Sprintf("user%d@example.com", i)}
			if _, err := repo.CreateWithNextID(ctx, u); err != nil {
				t.Errorf("CreateWithNextID failed: %v", err)
			}
		}(i)
	}
	wg.Wait()

	ids, err := repo.ListIDs(ctx)
	if err != nil {
		t.Fatalf("ListIDs failed: %v", err)
	}
	if len(ids) != n {
		t.Fatalf("Expected %d users, got %d", n, len(ids))
	}
	for i, id := range ids {
		if id != int64(i+1) {
			t.Errorf("Expected dense IDs 1..%d, got %v", n, ids)
			break
		}
	}
}

func TestReceiptRepoInsertListAndSpend(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := newTestDB(t)
	users := NewUserRepo(db)
	receipts := NewReceiptRepo(db)

	for _, email := range []string{"a@example.com", "b@example.com"} {
		if _, err := users.CreateWithNextID(ctx, &domain.User{Name: "u", Email: email}); err != nil {
			t.Fatalf("create user: %v", err)
		}
	}

	march := time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)
	feb := time.Date(2026, 2, 27, 0, 0, 0, 0, time.UTC)
	created := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)

	rows := []domain.Receipt{
		{ID: "r1", UserID: 1, Merchant: "Cafe", TotalAmount: decimal.NewNullDecimal(decimal.RequireFromString("12.50")), ReceiptDate: &march, CreatedAt: created},
		{ID: "r2", UserID: 1, Merchant: "Grocer", TotalAmount: decimal.NewNullDecimal(decimal.RequireFromString("30.25")), CreatedAt: created.Add(time.Hour)},
		{ID: "r3", UserID: 1, Merchant: "Old", TotalAmount: decimal.NewNullDecimal(decimal.RequireFromString("99")), ReceiptDate: &feb, CreatedAt: created},
		{ID: "r4", UserID: 2, Merchant: "Unknown", CreatedAt: created},
	}
	for i := range rows {
		rows[i].OCRConfidence = 0.95
		rows[i].Processed = true
		rows[i].FileHash = fmt.Sprintf("hash-%d", i)
		if err := receipts.Insert(ctx, &rows[i]); err != nil {
			t.Fatalf("Insert %s: %v", rows[i].ID, err)
		}
	}

	list, err := receipts.ListByUser(ctx, 1)
	if err != nil {
		t.Fatalf("ListByUser failed: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("Expected 3 receipts for user 1, got %d", len(list))
	}
	if list[0].ID != "r2" {
		t.Errorf("Expected newest receipt first, got %s", list[0].ID)
	}
	if list[0].ReceiptDate != nil {
		t.Error("Expected nil receipt date for r2")
	}

	all, _ := receipts.ListByUser(ctx, 0)
	if len(all) != 4 {
		t.Errorf("Expected 4 receipts overall, got %d", len(all))
	}
	for _, rc := range all {
		if rc.ID == "r4" && rc.TotalAmount.Valid {
			t.Error("Expected null total for r4")
		}
	}

	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	spend, err := receipts.SpendByUser(ctx, from, from.AddDate(0, 1, 0))
	if err != nil {
		t.Fatalf("SpendByUser failed: %v", err)
	}
	if got := spend[1]; !got.Equal(decimal.RequireFromString("42.75")) {
		t.Errorf("Expected March spend 42.75, got %s", got)
	}
	if _, ok := spend[2]; ok {
		t.Error("Expected no spend for user with only untotalled receipts")
	}
}

func TestReceiptRepoDateRoundTripAndWindowBounds(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := newTestDB(t)
	if _, err := NewUserRepo(db).CreateWithNextID(ctx, &domain.User{Name: "u", Email: "u@example.com"}); err != nil {
		t.Fatal(err)
	}
	receipts := NewReceiptRepo(db)

	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, 0)
	lastNano := to.Add(-time.Nanosecond)
	// Non-UTC zone still lands on the same instant.
	local := from.In(time.FixedZone("UTC+3", 3*60*60))

	rows := []struct {
		id     string
		amount string
		dated  time.Time
	}{
		{"at-from", "1", local},
		{"last-nano", "2", lastNano},
		{"at-to", "100", to},
		{"before", "200", from.Add(-time.Nanosecond)},
	}
	for i, r := range rows {
		d := r.dated
		rc := &domain.Receipt{
			ID: r.id, UserID: 1, TotalAmount: decimal.NewNullDecimal(decimal.RequireFromString(r.amount)),
			ReceiptDate: &d, FileHash: fmt.Sprintf("h%d", i), CreatedAt: to.AddDate(0, 1, 0),
		}
		if err := receipts.Insert(ctx, rc); err != nil {
			t.Fatalf("Insert %s: %v", r.id, err)
		}
	}

	list, err := receipts.ListByUser(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	for _, rc := range list {
		if rc.ID == "at-from" && (rc.ReceiptDate == nil || !rc.ReceiptDate.Equal(from)) {
			t.Errorf("Expected receipt date %v to round-trip, got %v", from, rc.ReceiptDate)
		}
	}

	spend, err := receipts.SpendByUser(ctx, from, to)
	if err != nil {
		t.Fatalf("SpendByUser failed: %v", err)
	}
	if got := spend[1]; !got.Equal(decimal.NewFromInt(3)) {
		t.Errorf("Expected spend 3 for [from, to), got %s", got)
	}
}

func TestReceiptRepoFindByHash(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := newTestDB(t)
	if _, err := NewUserRepo(db).CreateWithNextID(ctx, &domain.User{Name: "u", Email: "u@example.com"}); err != nil {
		t.Fatal(err)
	}
	receipts := NewReceiptRepo(db)

	if _, err := receipts.FindByHash(ctx, "abc"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	created := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	for i, id := range []string{"second", "first"} {
		rc := &domain.Receipt{ID: id, UserID: 1, Merchant: id, FileHash: "abc", CreatedAt: created.Add(-time.Duration(i) * time.Minute)}
		if err := receipts.Insert(ctx, rc); err != nil {
			t.Fatal(err)
		}
	}

	got, err := receipts.FindByHash(ctx, "abc")
	if err != nil {
		t.Fatalf("FindByHash failed: %v", err)
	}
	if got.ID != "first" {
		t.Errorf("Expected earliest receipt, got %s", got.ID)
	}
}

func TestReceiptRepoRequiresUser(t *testing.T) {
	t.Parallel()

	repo := NewReceiptRepo(newTestDB(t))
	err := repo.Insert(context.Background(), &domain.Receipt{ID: "r1", UserID: 7, CreatedAt: time.Now()})
	if err == nil {
		t.Error("Expected foreign key failure for unknown user")
	}
}

func TestBudgetRepo(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := newTestDB(t)
	if _, err := NewUserRepo(db).CreateWithNextID(ctx, &domain.User{Name: "u", Email: "u@example.com"}); err != nil {
		t.Fatalf("create user: %v", err)
	}
	repo := NewBudgetRepo(db)

	for _, b := range []domain.Budget{
		{ID: "b1", UserID: 1, Category: "Transport", MonthlyLimit: decimal.NewFromInt(100), CreatedAt: time.Now()},
		{ID: "b2", UserID: 1, Category: "Food & Dining", MonthlyLimit: decimal.RequireFromString("250.50"), CreatedAt: time.Now()},
	} {
		b := b
		if err := repo.Insert(ctx, &b); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}

	got, err := repo.List(ctx, 1)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 budgets, got %d", len(got))
	}
	if got[0].Category != "Food & Dining" || !got[0].MonthlyLimit.Equal(decimal.RequireFromString("250.5")) {
		t.Errorf("Unexpected first budget %+v", got[0])
	}

	none, _ := repo.List(ctx, 2)
	if len(none) != 0 {
		t.Errorf("Expected no budgets for user 2, got %d", len(none))
	}
}
