package domain

// Unknown and Prison are pseudo-provinces: rows whose province could
// not be resolved, and cases detected inside correctional facilities.
const (
	Unknown = "Unknown"
	Prison  = "Prison"
)

// NumProvinces is the fixed size of the canonical set, excluding the
// pseudo-provinces.
const NumProvinces = 77

// NumHealthDistricts is the number of เขตสุขภาพ regional health units.
const NumHealthDistricts = 13

type Province struct {
	Name           string  // canonical English name
	ThaiName       string
	HealthDistrict int // 1..13; 0 for pseudo-provinces
	Region         string
	Population     int
	AreaKm2        float64
}

// ProvinceParseError records a name the resolver could not canonicalize,
// for the fuzzy_provinces audit output.
type ProvinceParseError struct {
	Name    string
	Source  string
	Nearest string
	Ratio   float64
}
