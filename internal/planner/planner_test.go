package planner

import (
	"testing"

	"cloud.google.com/go/civil"
	"github.com/zulandar/empatia/internal/checkpoint"
)

func d(s string) civil.Date {
	date, err := civil.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return date
}

func dates(ss ...string) []civil.Date {
	out := make([]civil.Date, 0, len(ss))
	for _, s := range ss {
		out = append(out, d(s))
	}
	return out
}

func assertDates(t *testing.T, got, want []civil.Date) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestPlan_DropsDatesOlderThanLookback(t *testing.T) {
	cp := checkpoint.Checkpoint{
		LastExecutionDate: d("2024-01-01"),
		UncompletedDates:  dates("2023-09-01"),
	}
	got := Plan(cp, d("2024-01-05"), 90)
	assertDates(t, got, dates("2024-01-01", "2024-01-02", "2024-01-03", "2024-01-04", "2024-01-05"))
}

func TestPlan_MergesUncompletedAndDeduplicates(t *testing.T) {
	cp := checkpoint.Checkpoint{
		LastExecutionDate: d("2024-01-04"),
		UncompletedDates:  dates("2024-01-04", "2023-12-20", "2023-12-20"),
	}
	got := Plan(cp, d("2024-01-05"), 90)
	assertDates(t, got, dates("2023-12-20", "2024-01-04", "2024-01-05"))
}

func TestPlan_FirstRunProcessesToday(t *testing.T) {
	today := d("2024-06-10")
	got := Plan(checkpoint.Default(today), today, 90)
	assertDates(t, got, dates("2024-06-10"))
}

func TestPlan_LookbackBoundaryInclusive(t *testing.T) {
	cp := checkpoint.Checkpoint{
		LastExecutionDate: d("2024-01-10"),
		UncompletedDates:  dates("2024-01-01", "2023-12-31"),
	}
	got := Plan(cp, d("2024-01-10"), 9)
	// min date is 2024-01-01; it is kept, the day before is dropped.
	assertDates(t, got, dates("2024-01-01", "2024-01-10"))
}

func TestPlan_LastExecutionOlderThanHorizon(t *testing.T) {
	cp := checkpoint.Checkpoint{LastExecutionDate: d("2023-01-01")}
	got := Plan(cp, d("2024-01-05"), 3)
	assertDates(t, got, dates("2024-01-02", "2024-01-03", "2024-01-04", "2024-01-05"))
}

func TestPlan_AncientLastExecutionIsBounded(t *testing.T) {
	tests := []struct {
		name string
		last civil.Date
	}{
		{"year 1", civil.Date{Year: 1, Month: 1, Day: 1}},
		{"zero value", civil.Date{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Plan(checkpoint.Checkpoint{LastExecutionDate: tt.last}, d("2024-01-05"), 90)
			if len(got) != 91 {
				t.Fatalf("planned %d dates, want 91", len(got))
			}
			if got[0] != d("2023-10-07") || got[90] != d("2024-01-05") {
				t.Errorf("window = %s .. %s", got[0], got[90])
			}
		})
	}
}

func TestPlan_LastExecutionInFuture(t *testing.T) {
	cp := checkpoint.Checkpoint{
		LastExecutionDate: d("2024-02-01"),
		UncompletedDates:  dates("2024-01-03"),
	}
	got := Plan(cp, d("2024-01-05"), 90)
	assertDates(t, got, dates("2024-01-03"))
}

func TestPlan_DefaultLookback(t *testing.T) {
	cp := checkpoint.Checkpoint{
		LastExecutionDate: d("2024-04-10"),
		UncompletedDates:  dates("2024-01-11", "2024-01-10"),
	}
	got := Plan(cp, d("2024-04-10"), 0)
	// 2024-04-10 minus 90 days is 2024-01-11.
	assertDates(t, got, dates("2024-01-11", "2024-04-10"))
}

func TestPlan_DoesNotMutateCheckpoint(t *testing.T) {
	cp := checkpoint.Checkpoint{
		LastExecutionDate: d("2024-01-05"),
		UncompletedDates:  dates("2024-01-03", "2023-01-01"),
	}
	Plan(cp, d("2024-01-05"), 90)
	assertDates(t, cp.UncompletedDates, dates("2024-01-03", "2023-01-01"))
}

func TestDayRange(t *testing.T) {
	assertDates(t, DayRange(d("2024-02-27"), d("2024-03-01")), dates("2024-02-27", "2024-02-28", "2024-02-29", "2024-03-01"))
	if got := DayRange(d("2024-03-02"), d("2024-03-01")); len(got) != 0 {
		t.Errorf("reversed range = %v, want empty", got)
	}
}

func TestRange(t *testing.T) {
	got, err := Range(d("2024-01-30"), d("2024-02-02"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertDates(t, got, dates("2024-01-30", "2024-01-31", "2024-02-01", "2024-02-02"))

	got, err = Range(d("2024-01-30"), civil.Date{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertDates(t, got, dates("2024-01-30"))

	if _, err := Range(d("2024-02-02"), d("2024-01-30")); err == nil {
		t.Error("expected error for end before start")
	}
	if _, err := Range(civil.Date{}, d("2024-01-30")); err == nil {
		t.Error("expected error for zero start")
	}
}
