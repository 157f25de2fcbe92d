package bitcredit

import (
	"context"
	"testing"
)

func TestFakeAdapterBillLifecycle(t *testing.T) {
	adapter := NewFakeAdapter()
	ctx := context.Background()

	adapter.RegisterBill("node-1", "bill-1", 1893456000)

	status, err := adapter.CheckBill(ctx, "node-1", "bill-1")
	if err != nil {
		t.Fatalf("CheckBill: %v", err)
	}
	if status.Paid() {
		t.Fatal("expected freshly registered bill to be unpaid")
	}
	if status.MaturityDate != 1893456000 {
		t.Fatalf("expected maturity date 1893456000, got %d", status.MaturityDate)
	}

	if err := adapter.Endorse("node-1", "bill-1"); err != nil {
		t.Fatalf("Endorse: %v", err)
	}

	status, err = adapter.CheckBill(ctx, "node-1", "bill-1")
	if err != nil {
		t.Fatalf("CheckBill after endorse: %v", err)
	}
	if !status.Paid() {
		t.Fatal("expected bill to be paid after endorsement")
	}
}

func TestFakeAdapterUnknownBill(t *testing.T) {
	adapter := NewFakeAdapter()
	ctx := context.Background()

	if _, err := adapter.CheckBill(ctx, "node-x", "bill-x"); err == nil {
		t.Fatal("expected error for bill never registered")
	}
}
