package detector

import (
	"context"
	"sync"
	"testing"

	"duplicates-detection-service/internal/models"
)

func TestProcessBatchMixed(t *testing.T) {
	d, ms := newTestDetector(t, nil)
	ctx := context.Background()

	otherScope := testTransaction("RENTA OFICINA", "18000.00", "2024-03-01")
	otherScope.AccountNumber = "9998887766"

	txs := []*models.Transaction{
		testTransaction("PAYMENT ABCD 123", "1500.00", "2024-03-10"),
		testTransaction("PAYMENT ABCD 123", "1500.00", "2024-03-10"),
		testTransaction("PAYMENT ABCE 123", "1500.00", "2024-03-10"),
		otherScope,
	}

	result, err := d.ProcessBatch(ctx, txs)
	if err != nil {
		t.Fatalf("ProcessBatch() error = %v", err)
	}

	if len(result.Results) != 4 {
		t.Fatalf("len(Results) = %d, want 4", len(result.Results))
	}
	for i, res := range result.Results {
		if res == nil {
			t.Fatalf("Results[%d] = nil, want a classification", i)
		}
	}

	wantClasses := []models.ConflictType{
		models.ConflictDistinct,
		models.ConflictExactDuplicate,
		models.ConflictModifiedDuplicate,
		models.ConflictDistinct,
	}
	for i, want := range wantClasses {
		if got := result.Results[i].Classification; got != want {
			t.Errorf("Results[%d].Classification = %v, want %v", i, got, want)
		}
	}

	stats := result.Stats
	if stats.Total != 4 || stats.ExactDuplicates != 1 || stats.ModifiedDuplicates != 1 || stats.Distinct != 2 {
		t.Errorf("Stats = %+v, want total 4, exact 1, modified 1, distinct 2", stats)
	}
	if stats.Scopes != 2 {
		t.Errorf("Stats.Scopes = %d, want 2", stats.Scopes)
	}
	if stats.Failed != 0 {
		t.Errorf("Stats.Failed = %d, want 0", stats.Failed)
	}

	if len(ms.Conflicts()) != 4 {
		t.Errorf("conflicts written = %d, want 4", len(ms.Conflicts()))
	}
	if len(ms.Updates()) != 1 {
		t.Errorf("updates written = %d, want 1", len(ms.Updates()))
	}
}

func TestProcessBatchEmpty(t *testing.T) {
	d, _ := newTestDetector(t, nil)

	result, err := d.ProcessBatch(context.Background(), nil)
	if err != nil {
		t.Fatalf("ProcessBatch() error = %v", err)
	}
	if len(result.Results) != 0 || result.Stats.Total != 0 {
		t.Errorf("empty batch Results/Total = %d/%d, want 0/0", len(result.Results), result.Stats.Total)
	}
}

func TestProcessBatchNilTransaction(t *testing.T) {
	d, _ := newTestDetector(t, nil)

	txs := []*models.Transaction{
		testTransaction("PAYMENT ABCD 123", "1500.00", "2024-03-10"),
		nil,
		testTransaction("RENTA OFICINA", "18000.00", "2024-03-01"),
	}

	result, err := d.ProcessBatch(context.Background(), txs)
	if err != nil {
		t.Fatalf("ProcessBatch() error = %v", err)
	}

	if result.Results[0] == nil || result.Results[2] == nil {
		t.Error("valid transactions around a nil entry should still classify")
	}
	if result.Results[1] != nil {
		t.Error("Results[1] should be nil for the nil transaction")
	}
	if result.Stats.Failed != 1 {
		t.Errorf("Stats.Failed = %d, want 1", result.Stats.Failed)
	}

	foundIndex := false
	for _, batchErr := range result.Errors {
		if batchErr.Index == 1 {
			foundIndex = true
		}
	}
	if !foundIndex {
		t.Error("Errors should carry the nil transaction's index")
	}
}

func TestProcessBatchProgressCallbacks(t *testing.T) {
	d, _ := newTestDetector(t, nil)

	var mu sync.Mutex
	invocations := 0
	maxProcessed := 0

	d.AddProgressCallback(func(p *BatchProgress) {
		mu.Lock()
		defer mu.Unlock()
		invocations++
		if p.Processed > maxProcessed {
			maxProcessed = p.Processed
		}
	})

	txs := []*models.Transaction{
		testTransaction("PAYMENT ABCD 123", "1500.00", "2024-03-10"),
		testTransaction("PAYMENT ABCE 123", "1500.00", "2024-03-10"),
		testTransaction("RENTA OFICINA", "18000.00", "2024-03-01"),
	}

	if _, err := d.ProcessBatch(context.Background(), txs); err != nil {
		t.Fatalf("ProcessBatch() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if invocations != len(txs) {
		t.Errorf("callback invocations = %d, want %d", invocations, len(txs))
	}
	if maxProcessed != len(txs) {
		t.Errorf("max Processed seen = %d, want %d", maxProcessed, len(txs))
	}
}

func TestProcessBatchCancelled(t *testing.T) {
	d, ms := newTestDetector(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	txs := []*models.Transaction{
		testTransaction("PAYMENT ABCD 123", "1500.00", "2024-03-10"),
		testTransaction("PAYMENT ABCE 123", "1500.00", "2024-03-10"),
		testTransaction("PAYMENT ABCF 123", "1500.00", "2024-03-10"),
	}

	result, err := d.ProcessBatch(ctx, txs)
	if err == nil {
		t.Fatal("ProcessBatch() with cancelled context should fail")
	}

	if result.Stats.Failed != len(txs) {
		t.Errorf("Stats.Failed = %d, want %d", result.Stats.Failed, len(txs))
	}
	if len(result.Errors) != len(txs) {
		t.Errorf("len(Errors) = %d, want %d", len(result.Errors), len(txs))
	}
	for i, res := range result.Results {
		if res != nil {
			t.Errorf("Results[%d] = %+v, want nil after cancellation", i, res)
		}
	}
	if len(ms.Conflicts()) != 0 {
		t.Errorf("conflicts written = %d, want 0", len(ms.Conflicts()))
	}
}

func TestGroupByScope(t *testing.T) {
	txA1 := testTransaction("A FIRST", "1.00", "2024-03-01")
	txB1 := testTransaction("B FIRST", "2.00", "2024-03-01")
	txB1.AccountNumber = "2222222222"
	txA2 := testTransaction("A SECOND", "3.00", "2024-03-02")
	txB2 := testTransaction("B SECOND", "4.00", "2024-03-02")
	txB2.AccountNumber = "2222222222"

	groups := groupByScope([]*models.Transaction{txA1, txB1, txA2, nil, txB2})

	if len(groups) != 2 {
		t.Fatalf("len(groups) = %d, want 2", len(groups))
	}
	if groups[0].scope != txA1.Scope() {
		t.Errorf("groups[0].scope = %v, want first-seen scope %v", groups[0].scope, txA1.Scope())
	}

	wantFirst := []int{0, 2}
	wantSecond := []int{1, 4}
	for i, want := range wantFirst {
		if groups[0].indices[i] != want {
			t.Errorf("groups[0].indices = %v, want %v", groups[0].indices, wantFirst)
			break
		}
	}
	for i, want := range wantSecond {
		if groups[1].indices[i] != want {
			t.Errorf("groups[1].indices = %v, want %v", groups[1].indices, wantSecond)
			break
		}
	}
}
