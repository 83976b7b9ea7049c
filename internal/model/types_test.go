package model

import (
	"encoding/json"
	"testing"
	"time"
)

func TestCategoryLedgerContract(t *testing.T) {
	if CategoryPersonal.LedgerValue() != 0 || CategoryBusiness.LedgerValue() != 1 {
		t.Fatalf("ledger values changed: personal=%d business=%d", CategoryPersonal.LedgerValue(), CategoryBusiness.LedgerValue())
	}
	if CategoryFromLedger(1) != CategoryBusiness {
		t.Fatalf("1 should map to business")
	}
	if CategoryFromLedger(7) != CategoryPersonal {
		t.Fatalf("unknown ledger value should fall back to personal")
	}
}

func TestCategoryJSON(t *testing.T) {
	b, err := json.Marshal(CategoryBusiness)
	if err != nil || string(b) != `"business"` {
		t.Fatalf("marshal: %s %v", b, err)
	}
	var c Category
	if err := json.Unmarshal([]byte(`"Personal"`), &c); err != nil || c != CategoryPersonal {
		t.Fatalf("unmarshal name: %v %v", c, err)
	}
	if err := json.Unmarshal([]byte(`1`), &c); err != nil || c != CategoryBusiness {
		t.Fatalf("unmarshal ledger int: %v %v", c, err)
	}
	if err := json.Unmarshal([]byte(`"medical"`), &c); err == nil {
		t.Fatalf("expected error for unknown category")
	}
}

func TestTripFilterMatches(t *testing.T) {
	t0 := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	trip := TripRecord{StartTime: t0, Category: CategoryBusiness, IsManualEntry: true}
	biz, per := CategoryBusiness, CategoryPersonal
	manual := true
	if !(TripFilter{Category: &biz, Manual: &manual}).Matches(trip) {
		t.Fatalf("expected match")
	}
	if (TripFilter{Category: &per}).Matches(trip) {
		t.Fatalf("category filter ignored")
	}
	if (TripFilter{From: t0.Add(time.Minute)}).Matches(trip) {
		t.Fatalf("from bound ignored")
	}
	if (TripFilter{To: t0}).Matches(trip) {
		t.Fatalf("to bound should be exclusive")
	}
}

func TestLedgerEntry(t *testing.T) {
	trip := TripRecord{ID: "x", StartTime: time.Date(2025, 3, 1, 23, 0, 0, 0, time.UTC), DistanceMiles: 12.5, Category: CategoryBusiness, Purpose: OptionalText(" client visit ")}
	e := NewLedgerEntry(trip)
	if e.Category != 1 || e.Date != "2025-03-01" || e.Purpose != "client visit" {
		t.Fatalf("unexpected entry: %+v", e)
	}
	if OptionalText("   ") != nil {
		t.Fatalf("blank purpose should be absent")
	}
}
