package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/bytedance/sonic"
	"github.com/google/uuid"

	"github.com/thcovid/thcovid/internal/combine"
	"github.com/thcovid/thcovid/internal/dates"
	"github.com/thcovid/thcovid/internal/frame"
	"github.com/thcovid/thcovid/internal/pkg/config"
	"github.com/thcovid/thcovid/internal/pkg/download"
	"github.com/thcovid/thcovid/internal/pkg/logger"
	"github.com/thcovid/thcovid/internal/pkg/pagedjson"
	"github.com/thcovid/thcovid/internal/provinces"
	"github.com/thcovid/thcovid/internal/source/briefing"
	"github.com/thcovid/thcovid/internal/source/dashboard"
	"github.com/thcovid/thcovid/internal/source/docfile"
	"github.com/thcovid/thcovid/internal/source/drive"
	"github.com/thcovid/thcovid/internal/source/moph"
	"github.com/thcovid/thcovid/internal/source/situation"
	"github.com/thcovid/thcovid/internal/source/testreports"
	"github.com/thcovid/thcovid/internal/source/twitter"
	"github.com/thcovid/thcovid/internal/source/vaccination"
	"github.com/thcovid/thcovid/internal/source/variant"
	"github.com/thcovid/thcovid/internal/source/weekly"
)

const (
	outputDir = "api"
	cacheDir  = "inputs"

	situationIndexTH = "https://ddc.moph.go.th/viralpneumonia/situation.php"
	situationIndexEN = "https://ddc.moph.go.th/viralpneumonia/eng/situation.php"
	situationToday   = "https://covid19.ddc.moph.go.th/"
	testingIndex     = "https://service.dmsc.moph.go.th/labscovid19/indexen.php"
	vaccinationIndex = "https://ddc.moph.go.th/vaccine-covid19/diaryReport"
	variantIndex     = "https://www3.dmsc.moph.go.th/post-view/1411"

	briefingFolderID = "1yUVwstf5CmdvBVtKbs0uqg3NLSNuqa0Q"

	dashboardWorkbook = "https://public.tableau.com/vizql/w/SATCOVIDDashboard/v/1-dash-tiles"
	twitterEndpoint   = "https://twitterscraper.thcovid.local/api/tweets"
	bedJSONEndpoint   = "https://covid19.moph.go.th/api/bed-occupancy"
	hospitalResources = "https://covid19.th-stat.com/api/open/hospital-resources"
	excessDeathsCSV   = "https://stat.bora.dopa.go.th/stat/statnew/deaths/monthly.csv"
	ihmeCSV           = "https://ihmecovid19storage.blob.core.windows.net/latest/data_download_file_reference_2020.csv"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := logger.Init(cfg.Env); err != nil {
		return fmt.Errorf("logger: %w", err)
	}

	runID := uuid.NewString()
	logger.Infof(ctx, "run %s starting (cache=%v, check_newer=%v, max_days=%d)",
		runID, cfg.UseCacheData, cfg.CheckNewer, cfg.MaxDays)

	resolver := provinces.NewResolver()
	fetcher := newFetcher(cfg)
	store := frame.NewStore(outputDir)

	text := docfile.CLIText{}
	tables := docfile.CLITables{Bin: "extract-tables"}
	charts := docfile.CLICharts{Bin: "extract-charts"}

	driveClient := drive.NewClient(cfg.DriveAPIKey, nil)

	jobs := []combine.Job{
		situationJob(fetcher, text, cfg),
		briefingJob(fetcher, text, resolver, driveClient, cfg),
		testingJob(fetcher, text, charts, cfg),
		dashboardJob(resolver, store, cfg),
		vaccinationJob(fetcher, text, tables, resolver, cfg),
		weeklyJob(resolver),
		twitterJob(resolver),
		variantJob(fetcher, text, tables, cfg),
		mophJob(fetcher, resolver, cfg),
	}

	combined, err := combine.New(cfg, store, resolver, jobs...).Run(ctx)
	if err != nil {
		return err
	}

	logger.Infof(ctx, "run %s finished: combined %d rows, %d columns, %d unmatched province names",
		runID, combined.Len(), len(combined.Columns()), len(resolver.Unmatched()))
	return nil
}

// newFetcher applies the MAX_DAYS cut-short: with a positive budget,
// files last modified before the window start stop iteration early.
func newFetcher(cfg *config.Config) *download.Fetcher {
	if cfg.MaxDays <= 0 {
		return download.New()
	}
	return download.New(download.WithCutoff(time.Now().AddDate(0, 0, -cfg.MaxDays)))
}

func situationJob(fetcher *download.Fetcher, text docfile.TextExtractor, cfg *config.Config) combine.Job {
	return combine.Job{Name: "situation", Run: func(ctx context.Context) (combine.Frames, error) {
		p := situation.NewParser(fetcher, text)

		thURLs, err := listLinks(ctx, fetcher, situationIndexTH, ".pdf", "situation")
		if err != nil {
			return nil, err
		}
		th, err := p.Parse(ctx, thURLs, cacheDir+"/situation_th", situation.LangTH, cfg.CheckNewer)
		if err != nil {
			return nil, err
		}

		enURLs, err := listLinks(ctx, fetcher, situationIndexEN, ".pdf", "situation")
		if err != nil {
			return nil, err
		}
		en, err := p.Parse(ctx, enURLs, cacheDir+"/situation_en", situation.LangEN, cfg.CheckNewer)
		if err != nil {
			return nil, err
		}

		frames := combine.Frames{"situation_th": th, "situation_en": en}
		if today, err := p.ParseTodayHTML(ctx, situationToday, nil); err != nil {
			logger.Warnf(ctx, "today page: %s", err)
		} else {
			frames["situation_today"] = today
		}
		return frames, nil
	}}
}

func briefingJob(fetcher *download.Fetcher, text docfile.TextExtractor, resolver *provinces.Resolver, dc *drive.Client, cfg *config.Config) combine.Job {
	return combine.Job{Name: "briefing", Run: func(ctx context.Context) (combine.Frames, error) {
		files, err := dc.List(ctx, briefingFolderID)
		if err != nil {
			return nil, err
		}
		var urls []string
		for _, f := range files {
			if f.MimeType == "application/pdf" {
				urls = append(urls, f.DownloadURL())
			}
		}
		urls = cachedURLs(ctx, cacheDir+"/briefings/listing.json", urls)

		p := briefing.NewParser(fetcher, text, resolver)
		res, err := p.Parse(ctx, urls, cacheDir+"/briefings", cfg.CheckNewer)
		if err != nil {
			return nil, err
		}
		return combine.Frames{
			"cases_briefings":  res.Briefings,
			"briefings_prov":   res.Provinces,
			"deaths_briefings": res.Deaths,
			"briefings_vac":    res.Vac,
		}, nil
	}}
}

func testingJob(fetcher *download.Fetcher, text docfile.TextExtractor, charts docfile.ChartExtractor, cfg *config.Config) combine.Job {
	return combine.Job{Name: "testing", Run: func(ctx context.Context) (combine.Frames, error) {
		xlsx, err := listLinks(ctx, fetcher, testingIndex, ".xlsx", "")
		if err != nil {
			return nil, err
		}
		pptx, err := listLinks(ctx, fetcher, testingIndex, ".pptx", "")
		if err != nil {
			return nil, err
		}
		pdf, err := listLinks(ctx, fetcher, testingIndex, ".pdf", "")
		if err != nil {
			return nil, err
		}

		p := testreports.NewParser(fetcher, charts, text)
		res, err := p.Parse(ctx, xlsx, pptx, pdf, cacheDir+"/testing", cfg.CheckNewer)
		if err != nil {
			return nil, err
		}
		return combine.Frames{
			"tests":         res.Daily,
			"tests_by_area": res.ByArea,
			"tests_reports": res.ByArea,
		}, nil
	}}
}

func dashboardJob(resolver *provinces.Resolver, store *frame.Store, cfg *config.Config) combine.Job {
	return combine.Job{Name: "dashboard", Run: func(ctx context.Context) (combine.Frames, error) {
		s := dashboard.NewScraper(dashboard.NewTableauFactory(dashboardWorkbook, nil), resolver)
		defer s.Close()

		// Seed both walks from the previous export so already-covered
		// (date, province) combinations are skipped.
		daily, err := s.UpdateNational(ctx, importOrNew(ctx, store, "moph_dashboard", "Date"))
		if err != nil {
			return nil, err
		}
		byProv, err := s.UpdateByProvince(ctx, importOrNew(ctx, store, "moph_dashboard_prov", "Date", "Province"), cfg.MaxDays)
		if err != nil {
			return nil, err
		}
		return combine.Frames{"dash_daily": daily, "dash_by_province": byProv}, nil
	}}
}

// importOrNew reloads a previously exported frame; a failed import
// starts the walk from an empty frame instead of failing the job.
func importOrNew(ctx context.Context, store *frame.Store, name string, index ...string) *frame.Frame {
	f, err := store.ImportCSV(name, index...)
	if err != nil {
		logger.Warnf(ctx, "import %s: %s", name, err)
		return frame.New(name, index...)
	}
	return f
}

func vaccinationJob(fetcher *download.Fetcher, text docfile.TextExtractor, tables docfile.TableExtractor, resolver *provinces.Resolver, cfg *config.Config) combine.Job {
	return combine.Job{Name: "vaccination", Run: func(ctx context.Context) (combine.Frames, error) {
		urls, err := listLinks(ctx, fetcher, vaccinationIndex, ".pdf", "")
		if err != nil {
			return nil, err
		}
		p := vaccination.NewParser(fetcher, text, tables, resolver)
		res, err := p.Parse(ctx, urls, cacheDir+"/vaccination", cfg.CheckNewer)
		if err != nil {
			return nil, err
		}
		return combine.Frames{"vac_timeline": res.Timeline, "vac_provs": res.Provinces}, nil
	}}
}

func weeklyJob(resolver *provinces.Resolver) combine.Job {
	return combine.Job{Name: "weekly", Run: func(ctx context.Context) (combine.Frames, error) {
		c := weekly.NewClient(pagedjson.NewWalker(nil), resolver, cacheDir+"/weekly")
		res, err := c.Update(ctx)
		if err != nil {
			return nil, err
		}
		return combine.Frames{"timelineapi": res.National, "api_provs": res.Provinces}, nil
	}}
}

func twitterJob(resolver *provinces.Resolver) combine.Job {
	return combine.Job{Name: "twitter", Run: func(ctx context.Context) (combine.Frames, error) {
		s := twitter.NewScraper(twitter.NewHTTPFetcher(twitterEndpoint, nil), resolver, "Thairath_News", "workpointTODAY")
		res, err := s.Update(ctx, dates.Today().AddDays(-14))
		if err != nil {
			return nil, err
		}
		return combine.Frames{"twcases": res.National, "tweets_prov": res.Provinces}, nil
	}}
}

func variantJob(fetcher *download.Fetcher, text docfile.TextExtractor, tables docfile.TableExtractor, cfg *config.Config) combine.Job {
	return combine.Job{Name: "variant", Run: func(ctx context.Context) (combine.Frames, error) {
		urls, err := listLinks(ctx, fetcher, variantIndex, ".pdf", "")
		if err != nil {
			return nil, err
		}
		p := variant.NewParser(fetcher, text, tables)
		res, err := p.Parse(ctx, urls, cacheDir+"/variants", cfg.CheckNewer)
		if err != nil {
			return nil, err
		}
		return combine.Frames{
			"variants":           res.ByWeek,
			"variants_by_area":   res.ByArea,
			"variants_sequenced": res.Lineages,
		}, nil
	}}
}

func mophJob(fetcher *download.Fetcher, resolver *provinces.Resolver, cfg *config.Config) combine.Job {
	return combine.Job{Name: "moph", Run: func(ctx context.Context) (combine.Frames, error) {
		c := moph.NewClient(fetcher, resolver)
		frames := make(combine.Frames)

		if file, err := fetcher.Fetch(ctx, hospitalResources, cacheDir+"/moph", true, false); err == nil && !file.Missing {
			if f, err := moph.ParseHospitalResources(string(file.Data)); err == nil {
				frames["hospital_resources"] = f
			} else {
				logger.Warnf(ctx, "hospital resources: %s", err)
			}
		}
		if file, err := fetcher.Fetch(ctx, bedJSONEndpoint, cacheDir+"/moph", true, false); err == nil && !file.Missing {
			if f, err := c.ParseBedJSON(ctx, file.Data); err == nil {
				frames["moph_bed"] = f
			} else {
				logger.Warnf(ctx, "moph bed: %s", err)
			}
		}
		if file, err := fetcher.Fetch(ctx, excessDeathsCSV, cacheDir+"/moph", cfg.CheckNewer, true); err == nil && !file.Missing {
			rows, err := moph.ParseDeathRows(file.Data)
			if err == nil {
				if f, err := c.ExcessDeaths(ctx, rows); err == nil {
					frames["deaths_all"] = f
				}
			} else {
				logger.Warnf(ctx, "excess deaths: %s", err)
			}
		}
		if file, err := fetcher.Fetch(ctx, ihmeCSV, cacheDir+"/moph", cfg.CheckNewer, true); err == nil && !file.Missing {
			if f, err := moph.IHME(ctx, file.Data); err == nil {
				frames["ihme"] = f
			} else {
				logger.Warnf(ctx, "ihme: %s", err)
			}
		}
		return frames, nil
	}}
}

// cachedURLs persists a non-empty listing and falls back to the last
// saved one when the live listing came back empty (no API key, or the
// listing endpoint is down).
func cachedURLs(ctx context.Context, path string, urls []string) []string {
	if len(urls) > 0 {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			logger.Warnf(ctx, "listing cache %s: %s", path, err)
			return urls
		}
		if raw, err := sonic.Marshal(urls); err == nil {
			if err := os.WriteFile(path, raw, 0o644); err != nil {
				logger.Warnf(ctx, "listing cache %s: %s", path, err)
			}
		}
		return urls
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var cached []string
	if err := sonic.Unmarshal(raw, &cached); err != nil {
		return nil
	}
	logger.Warnf(ctx, "live listing empty, reusing %d cached urls from %s", len(cached), path)
	return cached
}

// listLinks fetches an index page and returns the absolute URLs of
// links ending in ext whose href contains keyword, newest (last on the
// page) first.
func listLinks(ctx context.Context, fetcher *download.Fetcher, indexURL, ext, keyword string) ([]string, error) {
	file, err := fetcher.Fetch(ctx, indexURL, cacheDir+"/index", true, false)
	if err != nil {
		return nil, fmt.Errorf("listLinks %s: %w", indexURL, err)
	}
	if file.Missing {
		return nil, nil
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(file.Data)))
	if err != nil {
		return nil, fmt.Errorf("listLinks %s: %w", indexURL, err)
	}
	base, err := url.Parse(indexURL)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var links []string
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		if !strings.HasSuffix(strings.ToLower(href), ext) {
			return
		}
		if keyword != "" && !strings.Contains(strings.ToLower(href), keyword) {
			return
		}
		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		abs := base.ResolveReference(ref).String()
		if !seen[abs] {
			seen[abs] = true
			links = append(links, abs)
		}
	})

	// Index pages list oldest first; parsers want newest first so the
	// cut-short budget spends on recent reports.
	for i, j := 0, len(links)-1; i < j; i, j = i+1, j-1 {
		links[i], links[j] = links[j], links[i]
	}
	return links, nil
}
