package twitter

import (
	"context"
	"testing"
	"time"

	"github.com/thcovid/thcovid/internal/dates"
	"github.com/thcovid/thcovid/internal/domain"
	"github.com/thcovid/thcovid/internal/frame"
	"github.com/thcovid/thcovid/internal/provinces"
)

type fakeFetcher struct {
	tweets []Tweet
	asked  []int
}

func (f *fakeFetcher) Recent(_ context.Context, _ string, count int) ([]Tweet, error) {
	f.asked = append(f.asked, count)
	if count > len(f.tweets) {
		return f.tweets, nil
	}
	return f.tweets[:count], nil
}

func at(day int) time.Time {
	return time.Date(2021, 7, day, 13, 0, 0, 0, time.UTC)
}

func TestUpdateParsesThreadedBreakdown(t *testing.T) {
	f := &fakeFetcher{tweets: []Tweet{
		{ID: 10, UserID: "moph", Time: at(20), Text: "วันนี้ ติดเชื้อเพิ่ม 2,112 ราย เสียชีวิต 15 ราย [1/3]"},
		{ID: 11, UserID: "moph", Time: at(20), ReplyToID: 10, Text: "[2/3] กรุงเทพมหานคร 500 เชียงใหม่ 100"},
		{ID: 12, UserID: "moph", Time: at(20), ReplyToID: 11, Text: "[3/3] ภูเก็ต 25"},
		{ID: 13, UserID: "other", Time: at(20), ReplyToID: 10, Text: "[2/3] ขอนแก่น 999"},
		{ID: 5, UserID: "moph", Time: at(1), Text: "สวัสดี"},
	}}
	s := NewScraper(f, provinces.NewResolver(), "moph")

	res, err := s.Update(context.Background(), dates.New(2021, 7, 10))
	if err != nil {
		t.Fatalf("Update: %s", err)
	}

	d := dates.New(2021, 7, 20)
	if v, _ := res.National.Value(frame.DateKey(d), domain.ColCases); v != 2112 {
		t.Errorf("cases = %v, want 2112", v)
	}
	if v, _ := res.National.Value(frame.DateKey(d), domain.ColDeaths); v != 15 {
		t.Errorf("deaths = %v, want 15", v)
	}
	for prov, want := range map[string]float64{"Bangkok": 500, "Chiang Mai": 100, "Phuket": 25} {
		k := frame.Key{Date: d, Province: prov}
		if v, _ := res.Provinces.Value(k, domain.ColCases); v != want {
			t.Errorf("%s = %v, want %v", prov, v, want)
		}
	}
	// A reply from a different author is not part of the thread.
	if _, ok := res.Provinces.Value(frame.Key{Date: d, Province: "Khon Kaen"}, domain.ColCases); ok {
		t.Error("foreign reply parsed into the thread")
	}
}

func TestFetchBackEscalatesBatches(t *testing.T) {
	// 50 tweets, all newer than the target: the first batch cannot
	// reach back far enough, so the scraper escalates.
	tweets := make([]Tweet, 60)
	for i := range tweets {
		tweets[i] = Tweet{ID: int64(1000 - i), UserID: "moph", Time: at(25)}
	}
	f := &fakeFetcher{tweets: tweets}
	s := NewScraper(f, provinces.NewResolver(), "moph")

	if _, err := s.fetchBack(context.Background(), "moph", dates.New(2021, 7, 1)); err != nil {
		t.Fatalf("fetchBack: %s", err)
	}
	if len(f.asked) != 2 || f.asked[0] != 50 || f.asked[1] != 2000 {
		t.Errorf("batch sizes = %v, want [50 2000]", f.asked)
	}
}

func TestFetchBackStopsWhenTargetReached(t *testing.T) {
	tweets := make([]Tweet, 50)
	for i := range tweets {
		tweets[i] = Tweet{ID: int64(1000 - i), UserID: "moph", Time: at(20)}
	}
	tweets[49].Time = at(2) // earliest already precedes the target
	f := &fakeFetcher{tweets: tweets}
	s := NewScraper(f, provinces.NewResolver(), "moph")

	if _, err := s.fetchBack(context.Background(), "moph", dates.New(2021, 7, 10)); err != nil {
		t.Fatalf("fetchBack: %s", err)
	}
	if len(f.asked) != 1 {
		t.Errorf("batches = %v, want a single batch of 50", f.asked)
	}
}
