// Package domain holds the canonical entities of the pipeline: sparse
// wide day records and the fixed province set.
package domain

import "fmt"

// Column groups. A DayRecord is a sparse mapping from column name to
// numeric value; only columns a source actually reported are present.
const (
	ColCases            = "Cases"
	ColCasesCum         = "Cases Cum"
	ColCasesWalkin      = "Cases Walkin"
	ColCasesProactive   = "Cases Proactive"
	ColCasesImported    = "Cases Imported"
	ColCasesAreaPrison  = "Cases Area Prison"
	ColDeathsAreaPrison = "Deaths Area Prison"
	ColCasesLocal       = "Cases Local Transmission"
	ColDeaths           = "Deaths"
	ColDeathsCum        = "Deaths Cum"
	ColRecovered        = "Recovered"
	ColHospitalized     = "Hospitalized"
	ColHospSevere       = "Hospitalized Severe"
	ColHospRespirator   = "Hospitalized Respirator"
	ColHospField        = "Hospitalized Field"
	ColHospHospitel     = "Hospitalized Field Hospitel"
	ColHospHICI         = "Hospitalized Field HICI"
	ColTestsXLS         = "Tests XLS"
	ColPosXLS           = "Pos XLS"
	ColTestsPublic      = "Tests Public"
	ColTestsPrivate     = "Tests Private"
	ColPosPublic        = "Pos Public"
	ColPosPrivate       = "Pos Private"
	ColPositiveRateDash = "Positive Rate Dash"
	ColTested           = "Tested"
	ColTestedCum        = "Tested Cum"
	ColTestedPUICum     = "Tested PUI Cum"
	ColTestedProactive  = "Tested Proactive Cum"
	ColTestedQuarantine = "Tested Quarantine Cum"
	ColDeathsAgeMedian  = "Deaths Age Median"
	ColDeathsAgeMin     = "Deaths Age Min"
	ColDeathsAgeMax     = "Deaths Age Max"
	ColDeathsMale       = "Deaths Male"
	ColDeathsFemale     = "Deaths Female"
	ColVacGivenCum      = "Vac Given Cum"
)

// VacGiven names the cumulative given-doses column for dose 1..4.
func VacGiven(dose int) string {
	return fmt.Sprintf("Vac Given %d Cum", dose)
}

// VacGivenBy names the per-manufacturer cumulative dose column.
func VacGivenBy(manuf string, dose int) string {
	return fmt.Sprintf("Vac Given %s %d Cum", manuf, dose)
}

// VacGroup names the per-group cumulative dose column.
func VacGroup(group string, dose int) string {
	return fmt.Sprintf("Vac Group %s %d Cum", group, dose)
}

// VacAllocated names the per-manufacturer allocation column.
func VacAllocated(manuf string) string {
	return fmt.Sprintf("Vac Allocated %s", manuf)
}

// CasesAge names an age-bucket case column, e.g. "Cases Age 20-29".
func CasesAge(bucket string) string {
	return fmt.Sprintf("Cases Age %s", bucket)
}

// CasesRisk names a risk-kind case column.
func CasesRisk(kind string) string {
	return fmt.Sprintf("Cases Risk: %s", kind)
}

// DeathsRisk and DeathsComorbidity name the death-demographic columns.
func DeathsRisk(kind string) string {
	return fmt.Sprintf("Deaths Risk %s", kind)
}

func DeathsComorbidity(kind string) string {
	return fmt.Sprintf("Deaths Comorbidity %s", kind)
}

func DeathsAge(bucket string) string {
	return fmt.Sprintf("Deaths Age %s", bucket)
}

// CasesArea and DeathsArea name the per-health-district aggregates.
func CasesArea(area int) string {
	return fmt.Sprintf("Cases Area %d", area)
}

func DeathsArea(area int) string {
	return fmt.Sprintf("Deaths Area %d", area)
}

// TestsArea and PosArea name the weekly per-health-district test columns.
func TestsArea(area int) string {
	return fmt.Sprintf("Tests Area %d", area)
}

func PosArea(area int) string {
	return fmt.Sprintf("Pos Area %d", area)
}

// Vaccine manufacturers appearing in allocation and dose tables.
var Manufacturers = []string{"Sinovac", "AstraZeneca", "Sinopharm", "Pfizer", "Moderna"}

// Vaccination target groups of the MOPH rollout.
var VacGroups = []string{
	"Medical Staff", "Health Volunteer", "Other Frontline Staff",
	"Over 60", "Risk: Disease", "Risk: Pregnant", "Risk: Location", "Student", "General Population",
}

// Death risk and comorbidity taxonomies are fixed enumerations; parsers
// match anchor strings onto these exact names.
var (
	DeathRiskKinds        = []string{"Family", "Community", "Work", "HCW", "Unknown"}
	DeathComorbidityKinds = []string{
		"Hypertension", "Diabetes", "Hyperlipidemia", "Kidney Disease",
		"Heart Disease", "Obesity", "Lung Disease", "Cancer", "Stroke",
		"Bedridden", "Pregnant", "None",
	}
)

// AgeBuckets used by the case and death age breakdowns.
var AgeBuckets = []string{"0-19", "20-29", "30-39", "40-49", "50-59", "60-69", "70+"}
