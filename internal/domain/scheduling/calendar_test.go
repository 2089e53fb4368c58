package scheduling

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/telecare/telecare/internal/domain/account"
)

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2030-01-07")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d != monday {
		t.Errorf("expected %v, got %v", monday, d)
	}
	if d.String() != "2030-01-07" {
		t.Errorf("expected round-trip, got %s", d)
	}

	for _, bad := range []string{"", "07-01-2030", "2030-02-30", "2030-1-7", "2030-01-07T00:00:00Z"} {
		if _, err := ParseDate(bad); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("ParseDate(%q): expected ErrInvalidInput, got %v", bad, err)
		}
	}
}

func TestWeekdayOf(t *testing.T) {
	tests := []struct {
		date string
		want time.Weekday
	}{
		{"2030-01-07", time.Monday},
		{"2030-01-06", time.Sunday},
		{"2026-10-19", time.Monday},
		{"2024-02-29", time.Thursday},
	}
	for _, tt := range tests {
		d, _ := ParseDate(tt.date)
		if got := WeekdayOf(d); got != tt.want {
			t.Errorf("WeekdayOf(%s) = %s, want %s", tt.date, got, tt.want)
		}
	}
}

func TestCalendar_TodayUsesZone(t *testing.T) {
	// 20:00 UTC on Sunday is already Monday 01:30 in IST
	utc := time.Date(2030, time.January, 6, 20, 0, 0, 0, time.UTC)
	cal := testCalendar(utc)

	if got := cal.Today(); got != monday {
		t.Errorf("expected %v, got %v", monday, got)
	}
}

func TestCalendar_At(t *testing.T) {
	cal := testCalendar(beforeMonday)
	at := cal.At(monday, account.Clock(9*60+30))

	want := time.Date(2030, time.January, 7, 9, 30, 0, 0, ist)
	if !at.Equal(want) {
		t.Errorf("expected %s, got %s", want, at)
	}
}

func TestDate_JSON(t *testing.T) {
	b, err := json.Marshal(struct {
		D Date `json:"d"`
	}{monday})
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `{"d":"2030-01-07"}` {
		t.Errorf("unexpected JSON %s", b)
	}

	var out struct {
		D Date `json:"d"`
	}
	if err := json.Unmarshal(b, &out); err != nil || out.D != monday {
		t.Errorf("unmarshal: %v %v", out.D, err)
	}
}

func TestDate_Before(t *testing.T) {
	a := Date{Year: 2030, Month: time.January, Day: 7}
	b := Date{Year: 2030, Month: time.February, Day: 1}
	if !a.Before(b) || b.Before(a) || a.Before(a) {
		t.Error("Before ordering is wrong")
	}
}
