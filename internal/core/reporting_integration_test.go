package core_test

import (
	"errors"
	"testing"
	"time"

	"medsupply/internal/core"

	"github.com/shopspring/decimal"
)

func summaryMap(summaries []core.ItemSummary) map[string]core.ItemSummary {
	m := make(map[string]core.ItemSummary, len(summaries))
	for _, s := range summaries {
		m[s.ItemCode] = s
	}
	return m
}

func TestReporting_ItemSummaries(t *testing.T) {
	ledger, stock, pool, ctx := newServices(t)
	reporting := core.NewReportingService(pool)

	// GAUZE: 15 on hand across two locations, reorder point 20 → low stock.
	receive(t, ctx, ledger, "GAUZE", "CENTRAL", 10)
	receive(t, ctx, ledger, "GAUZE", "ED", 5)
	// SYRINGE: 100 on hand, 30 reserved, reorder point 50 → healthy.
	receive(t, ctx, ledger, "SYRINGE", "CENTRAL", 100)
	if err := stock.Reserve(ctx, core.ReserveInput{
		ItemCode: "SYRINGE", LocationCode: "CENTRAL", Quantity: 30,
	}); err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}

	summaries, err := reporting.GetItemSummaries(ctx)
	if err != nil {
		t.Fatalf("GetItemSummaries failed: %v", err)
	}
	sm := summaryMap(summaries)

	gauze, ok := sm["GAUZE"]
	if !ok {
		t.Fatal("GAUZE missing from summaries")
	}
	if gauze.OnHand != 15 || gauze.Available != 15 {
		t.Errorf("Expected GAUZE on_hand=15, available=15; got %+v", gauze)
	}
	if !gauze.LowStock {
		t.Error("Expected GAUZE flagged low stock (15 <= reorder point 20)")
	}
	if !gauze.StockValue.Equal(decimal.NewFromFloat(37.50)) {
		t.Errorf("Expected GAUZE stock value 37.50 (15 × 2.50), got %s", gauze.StockValue)
	}

	syringe := sm["SYRINGE"]
	if syringe.OnHand != 100 || syringe.Reserved != 30 || syringe.Available != 70 {
		t.Errorf("Expected SYRINGE 100/30/70, got %+v", syringe)
	}
	if syringe.LowStock {
		t.Error("Expected SYRINGE not low stock (100 > reorder point 50)")
	}
}

func TestReporting_LowStockItems(t *testing.T) {
	ledger, _, pool, ctx := newServices(t)
	reporting := core.NewReportingService(pool)

	receive(t, ctx, ledger, "GAUZE", "CENTRAL", 10)    // 10 <= 20 → low
	receive(t, ctx, ledger, "SYRINGE", "CENTRAL", 200) // 200 > 50 → healthy

	low, err := reporting.GetLowStockItems(ctx)
	if err != nil {
		t.Fatalf("GetLowStockItems failed: %v", err)
	}
	lm := summaryMap(low)

	if _, ok := lm["GAUZE"]; !ok {
		t.Error("Expected GAUZE in the low-stock list")
	}
	if _, ok := lm["SYRINGE"]; ok {
		t.Error("Did not expect SYRINGE in the low-stock list")
	}
	// Items with no stock at all sit at their reorder point threshold too.
	if _, ok := lm["AMOX"]; !ok {
		t.Error("Expected zero-stock AMOX in the low-stock list")
	}
}

func TestReporting_Activity(t *testing.T) {
	ledger, _, pool, ctx := newServices(t)
	reporting := core.NewReportingService(pool)

	receive(t, ctx, ledger, "GAUZE", "CENTRAL", 100)
	receive(t, ctx, ledger, "GAUZE", "CENTRAL", 50)
	if _, err := ledger.Post(ctx, core.PostInput{
		Type:             core.TypeIssue,
		ItemCode:         "GAUZE",
		FromLocationCode: "CENTRAL",
		Quantity:         30,
		PerformedBy:      "nurse-7",
	}); err != nil {
		t.Fatalf("ISSUE failed: %v", err)
	}

	lines, err := reporting.GetActivity(ctx, "", "")
	if err != nil {
		t.Fatalf("GetActivity failed: %v", err)
	}

	byType := make(map[core.TransactionType]core.ActivityLine, len(lines))
	for _, l := range lines {
		byType[l.Type] = l
	}
	if r := byType[core.TypeReceipt]; r.Count != 2 || r.TotalQuantity != 150 {
		t.Errorf("Expected 2 receipts totaling 150, got %+v", r)
	}
	if i := byType[core.TypeIssue]; i.Count != 1 || i.TotalQuantity != 30 {
		t.Errorf("Expected 1 issue of 30, got %+v", i)
	}

	// A window starting tomorrow sees nothing.
	tomorrow := time.Now().AddDate(0, 0, 1).Format("2006-01-02")
	empty, err := reporting.GetActivity(ctx, tomorrow, "")
	if err != nil {
		t.Fatalf("GetActivity with future bound failed: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("Expected no activity from tomorrow on, got %d lines", len(empty))
	}
}

func TestReporting_ItemHistory(t *testing.T) {
	ledger, _, pool, ctx := newServices(t)
	reporting := core.NewReportingService(pool)

	receive(t, ctx, ledger, "GAUZE", "CENTRAL", 40)
	if _, err := ledger.Post(ctx, core.PostInput{
		Type:             core.TypeIssue,
		ItemCode:         "GAUZE",
		FromLocationCode: "CENTRAL",
		Quantity:         10,
		PerformedBy:      "nurse-7",
	}); err != nil {
		t.Fatalf("ISSUE failed: %v", err)
	}

	history, err := reporting.GetItemHistory(ctx, "GAUZE")
	if err != nil {
		t.Fatalf("GetItemHistory failed: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("Expected 2 transactions, got %d", len(history))
	}
	if history[0].Type != core.TypeReceipt || history[1].Type != core.TypeIssue {
		t.Errorf("Expected RECEIPT then ISSUE, got %s then %s", history[0].Type, history[1].Type)
	}
	if history[0].SequenceNumber >= history[1].SequenceNumber {
		t.Errorf("Expected strictly increasing sequence numbers, got %d then %d",
			history[0].SequenceNumber, history[1].SequenceNumber)
	}

	_, err = reporting.GetItemHistory(ctx, "NO-SUCH-ITEM")
	if !errors.Is(err, core.ErrItemNotFound) {
		t.Errorf("Expected ErrItemNotFound, got %v", err)
	}
}
