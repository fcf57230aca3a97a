// Package combine orchestrates the source parsers and folds their
// frames into the published tables. Precedence is positional: in every
// combine chain the earlier frame wins a contested cell, later frames
// only fill gaps.
package combine

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/thcovid/thcovid/internal/domain"
	"github.com/thcovid/thcovid/internal/frame"
	"github.com/thcovid/thcovid/internal/pkg/config"
	"github.com/thcovid/thcovid/internal/pkg/logger"
	"github.com/thcovid/thcovid/internal/provinces"
)

// Frames is the working set of named source frames.
type Frames = map[string]*frame.Frame

// Job is one parser run; it returns its frames under their canonical
// names ("briefings", "briefings_prov", "timelineapi", ...).
type Job struct {
	Name string
	Run  func(ctx context.Context) (Frames, error)
}

// parallelWorkers bounds concurrent parsers. Incremental runs
// (MAX_DAYS > 0) drop to one worker so cache writes stay ordered.
const parallelWorkers = 4

// provincePrecedence lists the per-province sources, strongest first.
var provincePrecedence = []string{
	"risks_prov", "tweets_prov", "dash_by_province", "briefings_prov", "api_provs",
}

// combinedPrecedence lists the national sources of the combined table,
// strongest first. cases_by_area, situation and vac are the derived
// frames computed by Build.
var combinedPrecedence = []string{
	"tests_reports", "tests", "cases_briefings", "timelineapi", "twcases",
	"cases_demo", "cases_by_area", "situation", "vac", "dash_ages", "dash_daily",
}

type Combiner struct {
	cfg      *config.Config
	store    *frame.Store
	resolver *provinces.Resolver
	jobs     []Job
}

func New(cfg *config.Config, store *frame.Store, resolver *provinces.Resolver, jobs ...Job) *Combiner {
	return &Combiner{cfg: cfg, store: store, resolver: resolver, jobs: jobs}
}

// Run executes the whole pipeline and returns the combined frame.
func (c *Combiner) Run(ctx context.Context) (*frame.Frame, error) {
	if c.cfg.UseCacheData && c.cfg.MaxDays == 0 {
		logger.Infof(ctx, "cache mode: serving stored combined frame")
		return c.store.ImportCSV("combined", "Date")
	}

	frames, err := c.collect(ctx)
	if err != nil {
		return nil, err
	}

	out := Build(ctx, frames)
	// Canonicalize any name a source left unresolved and attach the
	// health district before the province table is published.
	out.ByProvince = provinces.Join(out.ByProvince, c.resolver, "combined")

	if c.cfg.UseCacheData {
		prev, err := c.store.ImportCSV("combined", "Date")
		if err != nil {
			return nil, err
		}
		out.Combined = out.Combined.CombineFirst(prev)
	}

	if err := c.export(ctx, frames, out); err != nil {
		return nil, err
	}
	return out.Combined, nil
}

// collect runs every job, merging their frames. A failed source logs
// and drops out; the survivors still publish.
func (c *Combiner) collect(ctx context.Context) (Frames, error) {
	workers := parallelWorkers
	if c.cfg.MaxDays > 0 {
		workers = 1
	}

	var mu sync.Mutex
	frames := make(Frames)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, job := range c.jobs {
		job := job
		g.Go(func() error {
			got, err := job.Run(gctx)
			if err != nil {
				logger.Errorf(gctx, "source %s: %s", job.Name, err)
				return nil
			}
			mu.Lock()
			defer mu.Unlock()
			for name, f := range got {
				if f == nil {
					continue
				}
				if prev, ok := frames[name]; ok {
					frames[name] = prev.CombineFirst(f)
				} else {
					frames[name] = f
				}
			}
			rows := 0
			for _, f := range got {
				if f != nil {
					rows += f.Len()
				}
			}
			logger.Infof(gctx, "source %s: %d rows", job.Name, rows)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return frames, nil
}

// Outputs are the derived tables Build produces from the source frames.
type Outputs struct {
	Combined   *frame.Frame
	ByProvince *frame.Frame
	ByArea     *frame.Frame
	Situation  *frame.Frame
	Vac        *frame.Frame
}

// Build folds the source frames: per-province precedence, the
// historical column fix, district aggregation, situation and
// vaccination merges, then the combined chain.
func Build(ctx context.Context, frames Frames) *Outputs {
	prov := chain(frames, provincePrecedence, "cases_by_province", "Date", "Province")
	// Early dashboard snapshots published proactive cases under the
	// severe-hospitalization label.
	prov.Rename(domain.ColHospSevere, domain.ColCasesProactive)

	byArea := provinces.ByArea(prov, domain.ColCases, domain.ColDeaths)

	situation := chain(frames, []string{"situation_th", "situation_en"}, "situation_reports", "Date")
	if today := frames["situation_today"]; today != nil {
		situation = situation.CombineFirst(today)
	}

	vac := chain(frames, []string{"vac_timeline", "briefings_vac", "dash_vac"}, "vaccinations", "Date")
	sanitizeCums(ctx, vac)

	derived := Frames{"cases_by_area": byArea, "situation": situation, "vac": vac}
	combined := frame.New("combined", "Date")
	for _, name := range combinedPrecedence {
		next := derived[name]
		if next == nil {
			next = frames[name]
		}
		if next == nil {
			continue
		}
		combined = combined.CombineFirst(next)
	}

	// Within the case-total family the dashboard outranks the briefing
	// and the APIs, even though it sits last in the fill chain.
	if dash := frames["dash_daily"]; dash != nil {
		for _, k := range dash.Keys() {
			for _, col := range []string{domain.ColCases, domain.ColDeaths} {
				if v, ok := dash.Value(k, col); ok {
					combined.Set(k, col, v)
				}
			}
		}
	}

	sanitizeCums(ctx, combined)

	// Daily tested counts derive from the cumulative series; derive on
	// a clone so reported daily cells keep priority over differences.
	scratch := combined.Clone()
	scratch.CumToDaily(domain.ColTestedCum, domain.ColTested)
	combined = combined.CombineFirst(scratch)

	return &Outputs{
		Combined:   combined,
		ByProvince: prov,
		ByArea:     byArea,
		Situation:  situation,
		Vac:        vac,
	}
}

// sanitizeCums drops non-monotonic cells from every cumulative column,
// per-dose and per-manufacturer included.
func sanitizeCums(ctx context.Context, f *frame.Frame) {
	for _, col := range f.Columns() {
		if !strings.HasSuffix(col, " Cum") {
			continue
		}
		for _, k := range f.SanitizeCum(col, 1) {
			logger.Warnf(ctx, "%s: dropped non-monotonic %s at %s", f.Name(), col, k.Date)
		}
	}
}

// chain folds the named frames first-wins into a fresh frame.
func chain(frames Frames, names []string, outName string, index ...string) *frame.Frame {
	out := frame.New(outName, index...)
	for _, name := range names {
		f := frames[name]
		if f == nil {
			continue
		}
		out = out.CombineFirst(f)
	}
	return out
}

// exportSpec maps a source frame to its published file name.
type exportSpec struct {
	frame   string
	file    string
	csvOnly bool
}

var passThroughExports = []exportSpec{
	{"cases_briefings", "cases_briefings", false},
	{"deaths_briefings", "deaths", false},
	{"deaths_all", "deaths_all", true},
	{"vac_timeline", "vac_timeline", false},
	{"vac_provs", "vaccination", false},
	{"tests_by_area", "tests_by_area", false},
	{"tests", "tests_pubpriv", false},
	{"variants", "variants", false},
	{"variants_by_area", "variants_by_area", false},
	{"variants_sequenced", "variants_sequenced", false},
	{"hospital_resources", "hospital_resources", true},
	{"moph_bed", "moph_bed", true},
	{"dash_daily", "moph_dashboard", true},
	{"dash_by_province", "moph_dashboard_prov", true},
	{"ihme", "ihme", false},
}

func (c *Combiner) export(ctx context.Context, frames Frames, out *Outputs) error {
	if err := c.store.Export(out.Combined, "combined", true); err != nil {
		return err
	}
	if err := c.store.Export(out.ByProvince, "cases_by_province", false); err != nil {
		return err
	}
	if err := c.store.Export(out.ByArea, "cases_by_area", false); err != nil {
		return err
	}
	if err := c.store.Export(out.Situation, "situation_reports", false); err != nil {
		return err
	}
	if err := c.store.Export(out.Vac, "vaccinations", false); err != nil {
		return err
	}
	for _, spec := range passThroughExports {
		f := frames[spec.frame]
		if f == nil || f.Empty() {
			continue
		}
		if err := c.store.Export(f, spec.file, spec.csvOnly); err != nil {
			return err
		}
	}
	return c.exportFuzzyAudit()
}

// exportFuzzyAudit writes the province names no parser could resolve.
func (c *Combiner) exportFuzzyAudit() error {
	unmatched := c.resolver.Unmatched()
	path := filepath.Join(c.store.Dir, "fuzzy_provinces.csv")
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("export fuzzy_provinces: %w", err)
	}
	defer file.Close()

	w := csv.NewWriter(file)
	if err := w.Write([]string{"Name", "Source", "Nearest", "Ratio"}); err != nil {
		return fmt.Errorf("export fuzzy_provinces: %w", err)
	}
	for _, u := range unmatched {
		rec := []string{u.Name, u.Source, u.Nearest, strconv.FormatFloat(u.Ratio, 'f', 3, 64)}
		if err := w.Write(rec); err != nil {
			return fmt.Errorf("export fuzzy_provinces: %w", err)
		}
	}
	w.Flush()
	return w.Error()
}
