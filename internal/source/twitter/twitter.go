// Package twitter extracts daily numbers from the reporting accounts
// that post province-by-province case threads. Tweets are free-form
// text; long breakdowns continue across "[n/m]" reply chains by the
// same author.
package twitter

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/thcovid/thcovid/internal/dates"
	"github.com/thcovid/thcovid/internal/domain"
	"github.com/thcovid/thcovid/internal/extract"
	"github.com/thcovid/thcovid/internal/frame"
	"github.com/thcovid/thcovid/internal/pkg/logger"
	"github.com/thcovid/thcovid/internal/provinces"
)

// Tweet is one status as returned by the scraping endpoint.
type Tweet struct {
	ID        int64
	UserID    string
	Time      time.Time
	Text      string
	ReplyToID int64
}

// Fetcher pulls the most recent count tweets of a user, newest first.
type Fetcher interface {
	Recent(ctx context.Context, userID string, count int) ([]Tweet, error)
}

// batchSizes escalates until the batch reaches back past the target
// date; most runs only need the first.
var batchSizes = []int{50, 2000, 20000}

var (
	casesRE        = regexp.MustCompile(`ติดเชื้อ(?:เพิ่ม|ใหม่|รายใหม่)\s*([\d,]+)`)
	deathsRE       = regexp.MustCompile(`เสียชีวิต(?:เพิ่ม)?\s*([\d,]+)`)
	continuationRE = regexp.MustCompile(`\[(\d+)/(\d+)\]`)
	provCountRE    = regexp.MustCompile(`([\p{Thai}][\p{Thai}.]+)\s+([\d,]+)`)
)

type Scraper struct {
	fetcher  Fetcher
	resolver *provinces.Resolver
	userIDs  []string
}

func NewScraper(fetcher Fetcher, resolver *provinces.Resolver, userIDs ...string) *Scraper {
	return &Scraper{fetcher: fetcher, resolver: resolver, userIDs: userIDs}
}

type Result struct {
	National  *frame.Frame // twcases
	Provinces *frame.Frame // tweets_prov
}

// Update scrapes every configured account back to target.
func (s *Scraper) Update(ctx context.Context, target dates.Date) (*Result, error) {
	res := &Result{
		National:  frame.New("twcases", "Date"),
		Provinces: frame.New("tweets_prov", "Date", "Province"),
	}
	for _, id := range s.userIDs {
		tweets, err := s.fetchBack(ctx, id, target)
		if err != nil {
			logger.Warnf(ctx, "twitter %s: %s", id, err)
			continue
		}
		s.parse(tweets, res)
	}
	return res, nil
}

// fetchBack escalates batch sizes until the earliest retrieved tweet
// precedes target.
func (s *Scraper) fetchBack(ctx context.Context, userID string, target dates.Date) ([]Tweet, error) {
	var tweets []Tweet
	for _, n := range batchSizes {
		var err error
		tweets, err = s.fetcher.Recent(ctx, userID, n)
		if err != nil {
			return nil, fmt.Errorf("fetchBack %s: %w", userID, err)
		}
		if len(tweets) < n {
			// The account has no older tweets to reach for.
			break
		}
		earliest := tweets[len(tweets)-1]
		if dates.FromTime(earliest.Time).Before(target) {
			break
		}
	}
	return tweets, nil
}

func (s *Scraper) parse(tweets []Tweet, res *Result) {
	byID := make(map[int64]Tweet, len(tweets))
	for _, t := range tweets {
		byID[t.ID] = t
	}

	for _, t := range tweets {
		if t.ReplyToID != 0 {
			// Continuations are folded into their head tweet.
			continue
		}
		cm := casesRE.FindStringSubmatch(t.Text)
		dm := deathsRE.FindStringSubmatch(t.Text)
		if cm == nil && dm == nil {
			continue
		}

		d := dates.FromTime(t.Time)
		text := t.Text + "\n" + thread(t, tweets, byID)

		k := frame.DateKey(d)
		if cm != nil {
			if v, ok := extract.CleanInt(cm[1]); ok {
				res.National.Set(k, domain.ColCases, float64(v))
			}
		}
		if dm != nil {
			if v, ok := extract.CleanInt(dm[1]); ok {
				res.National.Set(k, domain.ColDeaths, float64(v))
			}
		}

		s.parseProvinceCounts(d, text, res.Provinces)
	}
}

// thread collects the author's own "[n/m]" continuation replies under
// head, ordered by their n.
func thread(head Tweet, tweets []Tweet, byID map[int64]Tweet) string {
	type part struct {
		n    int
		text string
	}
	var parts []part
	for _, t := range tweets {
		if t.UserID != head.UserID || t.ReplyToID == 0 {
			continue
		}
		if rootOf(t, byID) != head.ID {
			continue
		}
		m := continuationRE.FindStringSubmatch(t.Text)
		if m == nil {
			continue
		}
		n, _ := strconv.Atoi(m[1])
		parts = append(parts, part{n, t.Text})
	}
	sort.Slice(parts, func(i, j int) bool { return parts[i].n < parts[j].n })

	out := ""
	for _, p := range parts {
		out += p.text + "\n"
	}
	return out
}

func rootOf(t Tweet, byID map[int64]Tweet) int64 {
	seen := 0
	for t.ReplyToID != 0 {
		parent, ok := byID[t.ReplyToID]
		if !ok {
			return t.ReplyToID
		}
		t = parent
		if seen++; seen > 100 {
			return t.ID
		}
	}
	return t.ID
}

func (s *Scraper) parseProvinceCounts(d dates.Date, text string, out *frame.Frame) {
	for _, m := range provCountRE.FindAllStringSubmatch(text, -1) {
		name, err := s.resolver.GetOpts(m[1], provinces.GetOpts{IgnoreError: true, Source: "twitter"})
		if err != nil || name == "" {
			continue
		}
		v, ok := extract.CleanInt(m[2])
		if !ok {
			continue
		}
		out.Set(frame.Key{Date: d, Province: name}, domain.ColCases, float64(v))
	}
}
