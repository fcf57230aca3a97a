// Package provinces canonicalizes the Thai/English/abbreviated province
// spellings found in source documents into the fixed 77-province set.
package provinces

import (
	"embed"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/thcovid/thcovid/internal/domain"
	"github.com/thcovid/thcovid/internal/pkg/constants"
	"github.com/thcovid/thcovid/internal/pkg/fuzzy"
)

//go:embed data/provinces.csv
var dataFS embed.FS

// DefaultCutoff is the fuzzy-match threshold for province names.
const DefaultCutoff = 0.74

var (
	loadOnce  sync.Once
	byName    map[string]domain.Province
	altLookup map[string]string // normalized alt spelling -> canonical
	altKeys   []string
)

// Alternate spellings beyond the canonical English and Thai names:
// Latin abbreviations, romanization variants and common Thai shorthand.
var altNames = map[string]string{
	"กทม.":          "Bangkok",
	"กทม":           "Bangkok",
	"กรุงเทพฯ":      "Bangkok",
	"กรุงเทพ":       "Bangkok",
	"bkk":           "Bangkok",
	"krung thep":    "Bangkok",
	"โคราช":         "Nakhon Ratchasima",
	"korat":         "Nakhon Ratchasima",
	"อยุธยา":        "Phra Nakhon Si Ayutthaya",
	"ayutthaya":     "Phra Nakhon Si Ayutthaya",
	"buri ram":      "Buriram",
	"chon buri":     "Chonburi",
	"lop buri":      "Lopburi",
	"prachin buri":  "Prachinburi",
	"phangnga":      "Phang Nga",
	"si saket":      "Si Sa Ket",
	"sisaket":       "Si Sa Ket",
	"nong bua lam phu": "Nong Bua Lamphu",
	"chainat":       "Chai Nat",
	"chachengsao":   "Chachoengsao",
	"เรือนจำ":       domain.Prison,
	"prison":        domain.Prison,
	"ไม่ระบุ":       domain.Unknown,
	"unknown":       domain.Unknown,
}

func load() {
	loadOnce.Do(func() {
		f, err := dataFS.Open("data/provinces.csv")
		if err != nil {
			panic(fmt.Sprintf("provinces table: %s", err))
		}
		defer f.Close()

		rows, err := csv.NewReader(f).ReadAll()
		if err != nil {
			panic(fmt.Sprintf("provinces table: %s", err))
		}

		byName = make(map[string]domain.Province, len(rows))
		altLookup = make(map[string]string, len(rows)*3)
		for _, row := range rows[1:] {
			district, _ := strconv.Atoi(row[2])
			pop, _ := strconv.Atoi(row[4])
			area, _ := strconv.ParseFloat(row[5], 64)
			p := domain.Province{
				Name:           row[0],
				ThaiName:       row[1],
				HealthDistrict: district,
				Region:         row[3],
				Population:     pop,
				AreaKm2:        area,
			}
			byName[p.Name] = p
			altLookup[normalize(p.Name)] = p.Name
			altLookup[normalize(p.ThaiName)] = p.Name
		}
		byName[domain.Unknown] = domain.Province{Name: domain.Unknown}
		byName[domain.Prison] = domain.Province{Name: domain.Prison}
		altLookup[normalize(domain.Unknown)] = domain.Unknown
		altLookup[normalize(domain.Prison)] = domain.Prison

		for alt, canonical := range altNames {
			altLookup[normalize(alt)] = canonical
		}
		altKeys = make([]string, 0, len(altLookup))
		for k := range altLookup {
			altKeys = append(altKeys, k)
		}
	})
}

var prefixes = []string{"จังหวัด", "จ.", "จ "}

func normalize(name string) string {
	name = strings.TrimSpace(name)
	for _, p := range prefixes {
		name = strings.TrimPrefix(name, p)
	}
	name = strings.TrimSuffix(strings.ToLower(name), " province")
	name = strings.Join(strings.Fields(name), " ")
	return name
}

// Lookup returns the metadata for a canonical name.
func Lookup(canonical string) (domain.Province, bool) {
	load()
	p, ok := byName[canonical]
	return p, ok
}

// All returns the canonical provinces, pseudo-provinces excluded.
func All() []domain.Province {
	load()
	out := make([]domain.Province, 0, domain.NumProvinces)
	for _, p := range byName {
		if p.Name != domain.Unknown && p.Name != domain.Prison {
			out = append(out, p)
		}
	}
	return out
}

// Resolver canonicalizes names, caching every fuzzy resolution and
// recording unmatched names for the audit output. Not safe for
// concurrent use by multiple parsers; each worker owns its own.
type Resolver struct {
	mu        sync.Mutex
	cache     map[string]string
	unmatched []domain.ProvinceParseError
}

func NewResolver() *Resolver {
	load()
	return &Resolver{cache: make(map[string]string)}
}

// Get canonicalizes name at the default cutoff, erroring on no match.
func (r *Resolver) Get(name string) (string, error) {
	return r.GetOpts(name, GetOpts{Cutoff: DefaultCutoff})
}

type GetOpts struct {
	Cutoff float64
	// Split retries by scanning for any known name inside the text.
	Split bool
	// IgnoreError returns "" instead of an error on no match.
	IgnoreError bool
	// Source labels the parser for the audit table.
	Source string
}

func (r *Resolver) GetOpts(name string, opts GetOpts) (string, error) {
	if opts.Cutoff == 0 {
		opts.Cutoff = DefaultCutoff
	}
	key := normalize(name)
	if key == "" {
		if opts.IgnoreError {
			return "", nil
		}
		return "", fmt.Errorf("empty province name: %w", constants.ErrProvinceUnknown)
	}

	r.mu.Lock()
	if hit, ok := r.cache[key]; ok {
		r.mu.Unlock()
		if hit == "" && !opts.IgnoreError {
			return "", fmt.Errorf("province %q: %w", name, constants.ErrProvinceUnknown)
		}
		return hit, nil
	}
	r.mu.Unlock()

	if canonical, ok := altLookup[key]; ok {
		r.put(key, canonical)
		return canonical, nil
	}

	if best, ok := fuzzy.BestMatch(key, altKeys, opts.Cutoff); ok {
		canonical := altLookup[best]
		r.put(key, canonical)
		return canonical, nil
	}

	if opts.Split {
		if canonical, ok := r.splitResolve(key); ok {
			r.put(key, canonical)
			return canonical, nil
		}
	}

	nearest, ratio := "", 0.0
	for _, k := range altKeys {
		if rt := fuzzy.Ratio(key, k); rt > ratio {
			nearest, ratio = altLookup[k], rt
		}
	}
	r.mu.Lock()
	r.cache[key] = ""
	r.unmatched = append(r.unmatched, domain.ProvinceParseError{
		Name: name, Source: opts.Source, Nearest: nearest, Ratio: ratio,
	})
	r.mu.Unlock()

	if opts.IgnoreError {
		return "", nil
	}
	return "", fmt.Errorf("province %q: %w", name, constants.ErrProvinceUnknown)
}

// splitResolve handles concatenated strings like "อ.เมือง เชียงใหม่" by
// hunting for any known name inside the text, longest names first.
func (r *Resolver) splitResolve(key string) (string, bool) {
	best, bestLen := "", 0
	for alt, canonical := range altLookup {
		if len(alt) > bestLen && strings.Contains(key, alt) {
			best, bestLen = canonical, len(alt)
		}
	}
	return best, bestLen > 0
}

func (r *Resolver) put(key, canonical string) {
	r.mu.Lock()
	r.cache[key] = canonical
	r.mu.Unlock()
}

// Unmatched returns the audit list of names that failed to resolve.
func (r *Resolver) Unmatched() []domain.ProvinceParseError {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.ProvinceParseError, len(r.unmatched))
	copy(out, r.unmatched)
	return out
}
