package cron

import (
	"testing"
	"time"
)

func TestValidateCronRejectsGarbage(t *testing.T) {
	if err := Validate(Cron, "not a cron expr"); err == nil {
		t.Fatal("expected error for invalid cron expression")
	}
	if err := Validate(Cron, "0 15 * * MON"); err != nil {
		t.Fatalf("expected valid cron expression, got %v", err)
	}
}

func TestValidateInterval(t *testing.T) {
	if err := Validate(Interval, "30m"); err != nil {
		t.Fatalf("expected valid interval, got %v", err)
	}
	if err := Validate(Interval, "0m"); err == nil {
		t.Fatal("expected error for non-positive interval")
	}
	if err := Validate(Interval, "garbage"); err == nil {
		t.Fatal("expected error for unparsable interval")
	}
}

func TestNextInterval(t *testing.T) {
	next, err := Next(Interval, "1m", nil, 1000)
	if err != nil {
		t.Fatal(err)
	}
	if want := int64(1000 + 60000); next != want {
		t.Fatalf("got %d want %d", next, want)
	}
}

func TestNextCronMondayAfternoon(t *testing.T) {
	loc, err := time.LoadLocation("UTC")
	if err != nil {
		t.Fatal(err)
	}
	// Thursday 2026-07-30 12:00 UTC -> next Monday 15:00
	ref := time.Date(2026, 7, 30, 12, 0, 0, 0, loc)
	next, err := Next(Cron, "0 15 * * MON", loc, ref.UnixMilli())
	if err != nil {
		t.Fatal(err)
	}
	got := time.UnixMilli(next).In(loc)
	if got.Weekday() != time.Monday || got.Hour() != 15 {
		t.Fatalf("expected next Monday 15:00, got %v", got)
	}
}

func TestOnceIsNotRecurring(t *testing.T) {
	if err := Validate(Once, "not-a-number"); err == nil {
		t.Fatal("expected error for non-numeric once schedule")
	}
	next, err := Next(Once, "12345", nil, 0)
	if err != nil || next != 12345 {
		t.Fatalf("got %d, %v", next, err)
	}
}
