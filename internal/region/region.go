// Package region maps a region code to its submission endpoint label. The
// engine treats the mapping as an opaque routing tag on records; only the
// reconciler's direct-submission path consults it.
package region

// Region describes one practice region.
type Region struct {
	Code     string
	Label    string
	Endpoint string
}

// DefaultCode is used for unknown or missing region codes.
const DefaultCode = "PTA"

var regions = map[string]Region{
	"CPT": {Code: "CPT", Label: "Cape Town", Endpoint: "cpt-submissions"},
	"PTA": {Code: "PTA", Label: "Pretoria", Endpoint: "pta-submissions"},
	"JHB": {Code: "JHB", Label: "Johannesburg", Endpoint: "jhb-submissions"},
}

// Lookup resolves a region code, falling back to the default region when the
// code is unknown.
func Lookup(code string) Region {
	if r, ok := regions[code]; ok {
		return r
	}
	return regions[DefaultCode]
}

// Codes lists the known region codes.
func Codes() []string {
	return []string{"CPT", "PTA", "JHB"}
}
