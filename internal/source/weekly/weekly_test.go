package weekly

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/thcovid/thcovid/internal/dates"
	"github.com/thcovid/thcovid/internal/domain"
	"github.com/thcovid/thcovid/internal/frame"
	"github.com/thcovid/thcovid/internal/pkg/pagedjson"
	"github.com/thcovid/thcovid/internal/provinces"
)

func weeklyServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	page := func(rows string, total int) string {
		return fmt.Sprintf(`{"data":[%s],"meta":{"per_page":100,"last_page":1,"total":%d}}`, rows, total)
	}
	mux.HandleFunc("/cases", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, page(`{"year":2565,"weeknum":19,"new_case":2100,"total_case":50000},
			{"year":2565,"weeknum":20,"new_case":2500,"total_case":52500}`, 2))
	})
	mux.HandleFunc("/deaths", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, page(`{"year":2565,"weeknum":20,"new_death":35,"total_death":900}`, 1))
	})
	mux.HandleFunc("/provs", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, page(`{"year":2565,"weeknum":20,"province":"กรุงเทพมหานคร","new_case":400,"total_case":9000},
			{"year":2565,"weeknum":20,"province":"ทั้งประเทศ","new_case":2500,"total_case":52500}`, 2))
	})
	return httptest.NewServer(mux)
}

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	c := NewClient(pagedjson.NewWalker(srv.Client()), provinces.NewResolver(), t.TempDir())
	c.CasesURL = srv.URL + "/cases"
	c.DeathsURL = srv.URL + "/deaths"
	c.CasesProvinceURL = srv.URL + "/provs"
	return c
}

func TestUpdateMapsWeeksToWeekEndDates(t *testing.T) {
	srv := weeklyServer(t)
	defer srv.Close()
	c := newTestClient(t, srv)

	res, err := c.Update(context.Background())
	if err != nil {
		t.Fatalf("Update: %s", err)
	}

	// BE 2565 week 20 ends on Sunday 2022-05-22.
	k := frame.DateKey(dates.New(2022, 5, 22))
	if v, _ := res.National.Value(k, domain.ColCases); v != 2500 {
		t.Errorf("week 20 cases = %v, want 2500", v)
	}
	if v, _ := res.National.Value(k, domain.ColDeaths); v != 35 {
		t.Errorf("week 20 deaths = %v, want 35", v)
	}
	k19 := frame.DateKey(dates.New(2022, 5, 15))
	if v, _ := res.National.Value(k19, domain.ColCasesCum); v != 50000 {
		t.Errorf("week 19 cases cum = %v, want 50000", v)
	}
}

func TestUpdateResolvesProvincesAndDropsAggregates(t *testing.T) {
	srv := weeklyServer(t)
	defer srv.Close()
	c := newTestClient(t, srv)

	res, err := c.Update(context.Background())
	if err != nil {
		t.Fatalf("Update: %s", err)
	}

	k := frame.Key{Date: dates.New(2022, 5, 22), Province: "Bangkok"}
	if v, _ := res.Provinces.Value(k, domain.ColCases); v != 400 {
		t.Errorf("Bangkok cases = %v, want 400", v)
	}
	// The "whole country" aggregate row is not a province.
	if got := len(res.Provinces.Provinces()); got != 1 {
		t.Errorf("provinces = %d, want 1", got)
	}
}

func TestUpdateWritesRowCache(t *testing.T) {
	srv := weeklyServer(t)
	defer srv.Close()
	c := newTestClient(t, srv)

	if _, err := c.Update(context.Background()); err != nil {
		t.Fatalf("Update: %s", err)
	}

	path := filepath.Join(c.dir, "cases_weekly.json")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("cache file: %s", err)
	}
	rows := loadCache(context.Background(), path)
	if len(rows) != 2 {
		t.Fatalf("cached rows = %d, want 2", len(rows))
	}
	if y, w, ok := weekKey(rows[1]); !ok || y != 2565 || w != 20 {
		t.Errorf("last cached key = %d,%d,%v; want 2565,20,true", y, w, ok)
	}
}

func TestRowDateHandlesCEYears(t *testing.T) {
	d, ok := rowDate(pagedjson.Row{"year": float64(2022), "weeknum": float64(20)})
	if !ok || d != dates.New(2022, 5, 22) {
		t.Errorf("rowDate CE = %s, %v; want 2022-05-22", d, ok)
	}
	if _, ok := rowDate(pagedjson.Row{"year": float64(2565)}); ok {
		t.Error("rowDate accepted a row without a week number")
	}
}
