package pagedjson

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
)

func weekKey(r Row) (int, int, bool) {
	y, ok1 := r["year"].(float64)
	w, ok2 := r["weeknum"].(float64)
	if !ok1 || !ok2 {
		return 0, 0, false
	}
	return int(y), int(w), true
}

func makeRows(n int) []Row {
	rows := make([]Row, n)
	for i := 0; i < n; i++ {
		rows[i] = Row{
			"year":    float64(2004 + i/50),
			"weeknum": float64(i%50 + 1),
			"total":   float64(i),
		}
	}
	return rows
}

func pagedServer(t *testing.T, rows []Row, perPage int, fail func(page int) bool, pages *[]int) *httptest.Server {
	t.Helper()
	lastPage := (len(rows) + perPage - 1) / perPage
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, _ := strconv.Atoi(r.URL.Query().Get("page"))
		if p < 1 {
			p = 1
		}
		if pages != nil {
			*pages = append(*pages, p)
		}
		if fail != nil && fail(p) {
			http.Error(w, "bad page", http.StatusBadRequest)
			return
		}
		start := (p - 1) * perPage
		end := start + perPage
		if end > len(rows) {
			end = len(rows)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"data":[`)
		for i := start; i < end; i++ {
			if i > start {
				fmt.Fprint(w, ",")
			}
			fmt.Fprintf(w, `{"year":%d,"weeknum":%d,"total":%d}`,
				int(rows[i]["year"].(float64)), int(rows[i]["weeknum"].(float64)), int(rows[i]["total"].(float64)))
		}
		fmt.Fprintf(w, `],"meta":{"per_page":%d,"last_page":%d,"total":%d}}`, perPage, lastPage, len(rows))
	}))
}

func TestWalkBackwardSplice(t *testing.T) {
	rows := makeRows(1000)
	srv := pagedServer(t, rows, 100, nil, nil)
	defer srv.Close()

	cached := rows[:900]
	got, err := NewWalker(srv.Client()).Walk(context.Background(), srv.URL, cached, weekKey)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1000 {
		t.Fatalf("spliced %d rows, want exactly total=1000", len(got))
	}
	for i, r := range got {
		if int(r["total"].(float64)) != i {
			t.Fatalf("row %d out of order: %v", i, r)
		}
	}
}

func TestWalkAtCoverageThresholdGoesBackward(t *testing.T) {
	rows := makeRows(1000)
	var pages []int
	srv := pagedServer(t, rows, 100, nil, &pages)
	defer srv.Close()

	// Exactly 90% coverage. The pivot row in the cache is stale; the
	// splice must replace it with the refetched one.
	cached := append([]Row{}, rows[:900]...)
	cached[899] = Row{"year": rows[899]["year"], "weeknum": rows[899]["weeknum"], "total": float64(-1)}

	got, err := NewWalker(srv.Client()).Walk(context.Background(), srv.URL, cached, weekKey)
	if err != nil {
		t.Fatal(err)
	}
	if len(pages) < 2 || pages[1] != 10 {
		t.Fatalf("pages requested %v, want the last page second (backward walk)", pages)
	}
	if len(got) != 1000 {
		t.Fatalf("spliced %d rows, want 1000", len(got))
	}
	if v := int(got[899]["total"].(float64)); v != 899 {
		t.Fatalf("pivot row total = %d, want the refetched 899", v)
	}
}

func TestWalkForwardPoorCoverage(t *testing.T) {
	rows := makeRows(350)
	srv := pagedServer(t, rows, 100, nil, nil)
	defer srv.Close()

	// 10 cached rows: well under 90% coverage, so a forward refetch.
	got, err := NewWalker(srv.Client()).Walk(context.Background(), srv.URL, rows[:10], weekKey)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 350 {
		t.Fatalf("forward walk got %d rows, want 350", len(got))
	}
}

func TestWalkBackwardFailSoft(t *testing.T) {
	rows := makeRows(1000)
	srv := pagedServer(t, rows, 100, func(p int) bool { return p == 9 }, nil)
	defer srv.Close()

	cached := rows[:950]
	got, err := NewWalker(srv.Client()).Walk(context.Background(), srv.URL, cached, weekKey)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(cached) {
		t.Fatalf("fail-soft should return the cache: %d rows", len(got))
	}
}

func TestWalkForwardTruncatesOnError(t *testing.T) {
	rows := makeRows(400)
	srv := pagedServer(t, rows, 100, func(p int) bool { return p == 3 }, nil)
	defer srv.Close()

	got, err := NewWalker(srv.Client()).Walk(context.Background(), srv.URL, nil, weekKey)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 200 {
		t.Fatalf("truncated walk got %d rows, want 200", len(got))
	}
}
