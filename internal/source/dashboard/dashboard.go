// Package dashboard scrapes the MOPH Tableau dashboard: a national
// timeline workbook plus per-province worksheets behind a filter. The
// Tableau wire protocol lives behind the Session interface; this
// package owns the walk order, staleness handling and retries.
package dashboard

import (
	"context"
	"errors"
	"fmt"

	"github.com/thcovid/thcovid/internal/dates"
	"github.com/thcovid/thcovid/internal/domain"
	"github.com/thcovid/thcovid/internal/frame"
	"github.com/thcovid/thcovid/internal/pkg/constants"
	"github.com/thcovid/thcovid/internal/pkg/logger"
	"github.com/thcovid/thcovid/internal/provinces"
)

// Session is one live Tableau dashboard session. Sessions go stale
// server-side; callers get ErrStaleSession (or garbage) and must open
// a fresh one through the factory.
type Session interface {
	// Series reads a date-indexed worksheet under the current filters.
	Series(ctx context.Context, worksheet string) (map[dates.Date]float64, error)
	// Value reads a single-cell worksheet under the current filters.
	Value(ctx context.Context, worksheet string) (float64, error)
	// SetProvince applies the province filter. Empty resets to national.
	SetProvince(ctx context.Context, name string) error
	// SetDate applies the date filter.
	SetDate(ctx context.Context, d dates.Date) error
	// LastUpdate is the data date the dashboard claims to cover.
	LastUpdate(ctx context.Context) (dates.Date, error)
	Close() error
}

// SessionFactory opens a new dashboard session.
type SessionFactory func(ctx context.Context) (Session, error)

// field binds a worksheet to an output column. allowNA marks
// worksheets that legitimately return nothing for some dates (the
// dashboard drops zero rows); those read as 0 instead of failing.
type field struct {
	worksheet string
	col       string
	allowNA   bool
}

var timelineFields = []field{
	{"D_NewTL", domain.ColCases, false},
	{"D_DeathTL", domain.ColDeaths, true},
	{"D_Severe", domain.ColHospSevere, true},
	{"D_SevereTube", domain.ColHospRespirator, true},
	{"D_Lab2TL", domain.ColTestedCum, true},
	{"D_Vac_Stack", domain.ColVacGivenCum, true},
}

var provinceFields = []field{
	{"D_NewTL", domain.ColCases, false},
	{"D_DeathTL", domain.ColDeaths, true},
	{"D_Vac_Stack", domain.ColVacGivenCum, true},
	{"D_Walkin", domain.ColCasesWalkin, true},
	{"D_Proact", domain.ColCasesProactive, true},
}

type Scraper struct {
	factory  SessionFactory
	resolver *provinces.Resolver

	sess Session
	// sessionRetries bounds how many fresh sessions one walk may burn.
	sessionRetries int
}

func NewScraper(factory SessionFactory, resolver *provinces.Resolver) *Scraper {
	return &Scraper{factory: factory, resolver: resolver, sessionRetries: 3}
}

func (s *Scraper) session(ctx context.Context) (Session, error) {
	if s.sess != nil {
		return s.sess, nil
	}
	sess, err := s.factory(ctx)
	if err != nil {
		return nil, fmt.Errorf("dashboard session: %w", err)
	}
	s.sess = sess
	return sess, nil
}

func (s *Scraper) reset() {
	if s.sess != nil {
		s.sess.Close()
		s.sess = nil
	}
}

func (s *Scraper) Close() {
	s.reset()
}

// withSession runs fn, replacing the session and retrying when it
// reports staleness. Any other error passes through.
func (s *Scraper) withSession(ctx context.Context, fn func(Session) error) error {
	var lastErr error
	for attempt := 0; attempt <= s.sessionRetries; attempt++ {
		sess, err := s.session(ctx)
		if err != nil {
			return err
		}
		err = fn(sess)
		if err == nil {
			return nil
		}
		if !errors.Is(err, constants.ErrStaleSession) {
			return err
		}
		logger.Warnf(ctx, "dashboard session went stale, reopening")
		s.reset()
		lastErr = err
	}
	return lastErr
}

// UpdateNational merges the national timeline worksheets into f.
// Existing cells win; the dashboard restates history and the restated
// values are the less trusted ones.
func (s *Scraper) UpdateNational(ctx context.Context, f *frame.Frame) (*frame.Frame, error) {
	fetched := frame.New(f.Name(), "Date")
	err := s.withSession(ctx, func(sess Session) error {
		if err := checkFresh(ctx, sess); err != nil {
			return err
		}
		if err := sess.SetProvince(ctx, ""); err != nil {
			return err
		}
		for _, fl := range timelineFields {
			series, err := sess.Series(ctx, fl.worksheet)
			if err != nil {
				if fl.allowNA {
					logger.Warnf(ctx, "dashboard %s: %s", fl.worksheet, err)
					continue
				}
				return fmt.Errorf("dashboard %s: %w", fl.worksheet, err)
			}
			for d, v := range series {
				fetched.Set(frame.DateKey(d), fl.col, v)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return f.CombineFirst(fetched), nil
}

// UpdateByProvince walks dates newest-first, reads every province for
// each date, and stops once it reaches a date f already fully covers
// (or the maxDays budget, when positive). Dates where the national
// total fails to load abort the walk; per-province gaps follow the
// field's allowNA policy.
func (s *Scraper) UpdateByProvince(ctx context.Context, f *frame.Frame, maxDays int) (*frame.Frame, error) {
	var last dates.Date
	err := s.withSession(ctx, func(sess Session) error {
		var err error
		last, err = sess.LastUpdate(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	fetched := frame.New(f.Name(), "Date", "Province")
	all := provinces.All()
	days := 0
	for d := last; !d.Before(dates.New(2021, 4, 1)); d = d.AddDays(-1) {
		if maxDays > 0 && days >= maxDays {
			break
		}
		if covered(f, d, len(all)) {
			break
		}
		if err := s.scrapeDate(ctx, fetched, d, all); err != nil {
			return nil, err
		}
		days++
	}
	return f.CombineFirst(fetched), nil
}

func covered(f *frame.Frame, d dates.Date, provinces int) bool {
	n := 0
	for _, k := range f.Keys() {
		if k.Date == d && k.Province != "" {
			n++
		}
	}
	return n >= provinces
}

func (s *Scraper) scrapeDate(ctx context.Context, out *frame.Frame, d dates.Date, all []domain.Province) error {
	return s.withSession(ctx, func(sess Session) error {
		if err := sess.SetDate(ctx, d); err != nil {
			return err
		}
		for _, prov := range all {
			if err := sess.SetProvince(ctx, prov.Name); err != nil {
				return err
			}
			for _, fl := range provinceFields {
				v, err := sess.Value(ctx, fl.worksheet)
				if err != nil {
					if errors.Is(err, constants.ErrStaleSession) {
						return err
					}
					if fl.allowNA {
						continue
					}
					return fmt.Errorf("dashboard %s %s %s: %w", d, prov.Name, fl.worksheet, err)
				}
				out.Set(frame.Key{Date: d, Province: prov.Name}, fl.col, v)
			}
		}
		return nil
	})
}

// checkFresh rejects a session whose data date lags more than two days
// behind today; the dashboard sometimes serves a cached stale workbook
// that only a new session clears.
func checkFresh(ctx context.Context, sess Session) error {
	last, err := sess.LastUpdate(ctx)
	if err != nil {
		return err
	}
	if dates.Today().DaysSince(last) > 2 {
		return fmt.Errorf("dashboard data ends %s: %w", last, constants.ErrStaleSession)
	}
	return nil
}
