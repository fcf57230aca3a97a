package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/thcovid/thcovid/internal/dates"
	"github.com/thcovid/thcovid/internal/frame"
	"github.com/thcovid/thcovid/internal/pkg/config"
	"github.com/thcovid/thcovid/internal/pkg/constants"
)

func TestNewFetcherAppliesMaxDaysCutoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Last-Modified", time.Now().AddDate(0, 0, -30).UTC().Format(http.TimeFormat))
		w.Write([]byte("report"))
	}))
	defer srv.Close()

	f := newFetcher(&config.Config{MaxDays: 7})
	_, err := f.Fetch(context.Background(), srv.URL+"/report.pdf", t.TempDir(), true, false)
	if !errors.Is(err, constants.ErrCutShort) {
		t.Fatalf("err = %v, want cut-short for a file older than the window", err)
	}

	f = newFetcher(&config.Config{})
	file, err := f.Fetch(context.Background(), srv.URL+"/report.pdf", t.TempDir(), true, false)
	if err != nil {
		t.Fatal(err)
	}
	if string(file.Data) != "report" {
		t.Fatalf("data = %q, want the full body without a cutoff", file.Data)
	}
}

func TestImportOrNewSeedsFromStore(t *testing.T) {
	store := frame.NewStore(t.TempDir())
	d := dates.New(2021, 7, 1)
	f := frame.New("moph_dashboard_prov", "Date", "Province")
	f.Set(frame.Key{Date: d, Province: "Bangkok"}, "Cases", 5)
	if err := store.Export(f, "moph_dashboard_prov", true); err != nil {
		t.Fatal(err)
	}

	got := importOrNew(context.Background(), store, "moph_dashboard_prov", "Date", "Province")
	if v, _ := got.Value(frame.Key{Date: d, Province: "Bangkok"}, "Cases"); v != 5 {
		t.Fatalf("seeded cases = %v, want 5", v)
	}

	empty := importOrNew(context.Background(), store, "never_exported", "Date")
	if !empty.Empty() {
		t.Fatal("missing export must seed an empty frame")
	}
}
