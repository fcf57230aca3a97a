package dates

import (
	"fmt"
	"testing"
	"time"
)

func TestFindThaiDate(t *testing.T) {
	cases := []struct {
		text string
		want string
	}{
		{"10 พฤษภาคม 2564", "2021-05-10"},
		{"20 ต.ค. 64", "2021-10-20"},
		{"ข้อมูล ณ วันที่ 1 มกราคม 2563", "2020-01-01"},
		{"ฉบับที่ 123 วันที่ 15 กุมภำพันธ์ 2564", "2021-02-15"}, // OCR corruption of า
	}
	for _, c := range cases {
		got, err := FindThaiDate(c.text)
		if err != nil {
			t.Errorf("FindThaiDate(%q): %v", c.text, err)
			continue
		}
		if got.String() != c.want {
			t.Errorf("FindThaiDate(%q) = %s, want %s", c.text, got, c.want)
		}
	}
}

func TestFindThaiDateUnresolved(t *testing.T) {
	if _, err := FindThaiDate("no date here"); err == nil {
		t.Fatal("expected error for text without a date")
	}
}

func TestFindThaiDateRemove(t *testing.T) {
	d, rest, err := FindThaiDateRemove("ยอดรวม 10 พฤษภาคม 2564 จำนวน 1,234 ราย")
	if err != nil {
		t.Fatal(err)
	}
	if d.String() != "2021-05-10" {
		t.Errorf("date = %s, want 2021-05-10", d)
	}
	if rest != "ยอดรวม  จำนวน 1,234 ราย" {
		t.Errorf("remainder = %q", rest)
	}
}

func TestFindDateRange(t *testing.T) {
	cases := []struct {
		text       string
		start, end string
	}{
		{"1/4/2021 - 15/4/2021", "2021-04-01", "2021-04-15"},
		{"1/4/2564 - 15/4/2564", "2021-04-01", "2021-04-15"},
		{"10 – 16/5/2564", "2021-05-10", "2021-05-16"},
		{"10 – 16 พฤษภาคม 2564", "2021-05-10", "2021-05-16"},
		{"28 กุมภำพันธ์ – 18 กรกฎำคม 2564", "2021-02-28", "2021-07-18"},
	}
	for _, c := range cases {
		start, end, err := FindDateRange(c.text)
		if err != nil {
			t.Errorf("FindDateRange(%q): %v", c.text, err)
			continue
		}
		if start.String() != c.start || end.String() != c.end {
			t.Errorf("FindDateRange(%q) = %s..%s, want %s..%s",
				c.text, start, end, c.start, c.end)
		}
	}
}

func TestWeekEnd(t *testing.T) {
	// ISO week 1 of 2021 ends Sunday 2021-01-10.
	if got := WeekEnd(2021, 1); got.String() != "2021-01-10" {
		t.Errorf("WeekEnd(2021, 1) = %s", got)
	}
	if got := WeekEnd(2022, 20); got.String() != "2022-05-22" {
		t.Errorf("WeekEnd(2022, 20) = %s", got)
	}
	if got := WeekEndBE(2565, 20); got.String() != "2022-05-22" {
		t.Errorf("WeekEndBE(2565, 20) = %s", got)
	}
}

func TestToSwitchingDate(t *testing.T) {
	pivot := New(2021, time.August, 1)

	// 2021-10-03 can't exist yet at the pivot; 2021-03-10 can.
	bad := New(2021, time.October, 3)
	if got := ToSwitchingDate(bad, pivot); got.String() != "2021-03-10" {
		t.Errorf("ToSwitchingDate = %s, want 2021-03-10", got)
	}

	ok := New(2021, time.July, 3)
	if got := ToSwitchingDate(ok, pivot); got != ok {
		t.Errorf("ToSwitchingDate altered a valid date: %s", got)
	}
}

func TestRoundTripFormatParse(t *testing.T) {
	for d := New(2019, time.January, 1); !d.After(New(2025, time.December, 31)); d = d.AddDays(37) {
		back, err := Parse(d.String())
		if err != nil {
			t.Fatal(err)
		}
		if back != d {
			t.Fatalf("round trip %s -> %s", d, back)
		}
	}
}

func TestFindThaiDateInvertsFormatter(t *testing.T) {
	format := func(d Date) string {
		return fmt.Sprintf("%d %s %d", d.Day, thaiMonths[int(d.Month)-1], d.Year+543)
	}
	for d := New(2019, time.January, 1); !d.After(New(2025, time.December, 31)); d = d.AddDays(11) {
		got, err := FindThaiDate(format(d))
		if err != nil {
			t.Fatalf("FindThaiDate(%q): %v", format(d), err)
		}
		if got != d {
			t.Fatalf("FindThaiDate(%q) = %s, want %s", format(d), got, d)
		}
	}
}
