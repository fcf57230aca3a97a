// Package pagedjson walks the MOPH weekly APIs, whose responses carry
// {data, meta:{per_page,last_page,total}}. Walk direction depends on
// how much of the series the local cache already covers.
package pagedjson

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cenkalti/backoff/v4"

	"github.com/thcovid/thcovid/internal/pkg/logger"
)

// MaxForwardPages bounds a forward walk over a badly-covered series.
const MaxForwardPages = 150

// coverageThreshold decides backward (patch the tail) vs forward
// (refetch everything) walking.
const coverageThreshold = 0.9

type Meta struct {
	PerPage  int `json:"per_page"`
	LastPage int `json:"last_page"`
	Total    int `json:"total"`
}

type Row = map[string]interface{}

type page struct {
	Data []Row `json:"data"`
	Meta Meta  `json:"meta"`
}

// KeyFunc extracts the (year, weeknum) ordering key from a row.
type KeyFunc func(Row) (year, week int, ok bool)

type Walker struct {
	client *http.Client
}

func NewWalker(client *http.Client) *Walker {
	if client == nil {
		client = &http.Client{Timeout: 90 * time.Second}
	}
	return &Walker{client: client}
}

// Walk fetches the series at baseURL, splicing against cached rows.
// With good cache coverage it walks backward from the last page until
// it crosses the cache's last (year, weeknum); otherwise it walks
// forward from page one. Mid-walk HTTP failures fail soft.
func (w *Walker) Walk(ctx context.Context, baseURL string, cached []Row, key KeyFunc) ([]Row, error) {
	first, err := w.page(ctx, baseURL, 1)
	if err != nil {
		logger.Warnf(ctx, "paged api %s: %s", baseURL, err)
		return cached, nil
	}
	if first.Meta.Total == 0 || first.Meta.LastPage <= 1 {
		return first.Data, nil
	}

	coverage := float64(len(cached)) / float64(first.Meta.Total)
	if coverage >= coverageThreshold && len(cached) > 0 {
		return w.walkBackward(ctx, baseURL, first.Meta, cached, key)
	}
	return w.walkForward(ctx, baseURL, first)
}

func (w *Walker) walkBackward(ctx context.Context, baseURL string, meta Meta, cached []Row, key KeyFunc) ([]Row, error) {
	pivotYear, pivotWeek, ok := key(cached[len(cached)-1])
	if !ok {
		return w.walkForward(ctx, baseURL, nil)
	}

	var fetched []Row
	startPage := meta.LastPage
	for p := startPage; p >= 1; p-- {
		pg, err := w.page(ctx, baseURL, p)
		if err != nil {
			// Fail soft: the cache stays authoritative.
			logger.Warnf(ctx, "paged api %s page %d: %s", baseURL, p, err)
			return cached, nil
		}
		fetched = append(pg.Data, fetched...)

		if p != startPage && containsKey(pg.Data, key, pivotYear, pivotWeek) {
			return splice(cached, fetched, key, pivotYear, pivotWeek), nil
		}
	}
	// Never crossed the pivot; the fetched rows are the whole series.
	return fetched, nil
}

func (w *Walker) walkForward(ctx context.Context, baseURL string, first *page) ([]Row, error) {
	var rows []Row
	start := 1
	lastPage := MaxForwardPages
	if first != nil {
		rows = append(rows, first.Data...)
		start = 2
		lastPage = first.Meta.LastPage
	}
	if lastPage > MaxForwardPages {
		lastPage = MaxForwardPages
	}
	for p := start; p <= lastPage; p++ {
		pg, err := w.page(ctx, baseURL, p)
		if err != nil {
			logger.Warnf(ctx, "paged api %s page %d: %s", baseURL, p, err)
			break
		}
		rows = append(rows, pg.Data...)
		if p >= pg.Meta.LastPage && pg.Meta.LastPage > 0 {
			break
		}
	}
	return rows, nil
}

func (w *Walker) page(ctx context.Context, baseURL string, n int) (*page, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", baseURL, err)
	}
	q := u.Query()
	q.Set("page", fmt.Sprint(n))
	u.RawQuery = q.Encode()

	var body []byte
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := w.client.Do(req)
		if err != nil {
			return fmt.Errorf("get: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 500 {
			return fmt.Errorf("status %d", resp.StatusCode)
		}
		if resp.StatusCode >= 400 {
			return backoff.Permanent(fmt.Errorf("status %d", resp.StatusCode))
		}
		body, err = io.ReadAll(resp.Body)
		return err
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, 2), ctx)); err != nil {
		return nil, err
	}

	var pg page
	if err := sonic.Unmarshal(body, &pg); err != nil {
		return nil, fmt.Errorf("decode page %d: %w", n, err)
	}
	return &pg, nil
}

func containsKey(rows []Row, key KeyFunc, year, week int) bool {
	for _, r := range rows {
		if y, wk, ok := key(r); ok && y == year && wk == week {
			return true
		}
	}
	return false
}

// splice keeps cached rows strictly before the pivot key and takes the
// freshly fetched rows from the pivot onward.
func splice(cached, fetched []Row, key KeyFunc, pivotYear, pivotWeek int) []Row {
	before := func(y, w int) bool {
		return y < pivotYear || (y == pivotYear && w < pivotWeek)
	}

	var out []Row
	for _, r := range cached {
		if y, w, ok := key(r); ok && before(y, w) {
			out = append(out, r)
		}
	}
	started := false
	for _, r := range fetched {
		if !started {
			if y, w, ok := key(r); ok && !before(y, w) {
				started = true
			}
		}
		if started {
			out = append(out, r)
		}
	}
	return out
}
