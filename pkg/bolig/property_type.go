package bolig

import (
	"fmt"
	"sort"
	"strings"
)

// PropertyType is a user-facing category of home.
type PropertyType string

// Property types accepted on the command line.
const (
	Apartment   PropertyType = "apartment"
	House       PropertyType = "house"
	Townhouse   PropertyType = "townhouse"
	HolidayHome PropertyType = "holiday-home"
	Cooperative PropertyType = "cooperative"
	Farm        PropertyType = "farm"
	Plot        PropertyType = "plot"
)

type tokens struct {
	web []string
	api []string
}

// propertyTokens maps each category to the site's path tokens and the API's
// addressTypes values.
var propertyTokens = map[PropertyType]tokens{
	Apartment:   {web: []string{"ejerlejlighed", "villalejlighed"}, api: []string{"condo", "villa apartment"}},
	House:       {web: []string{"villa"}, api: []string{"villa"}},
	Townhouse:   {web: []string{"raekkehus"}, api: []string{"terraced house"}},
	HolidayHome: {web: []string{"fritidshus"}, api: []string{"holiday house"}},
	Cooperative: {web: []string{"andelsbolig"}, api: []string{"cooperative"}},
	Farm:        {web: []string{"landejendom", "fritidsgaard"}, api: []string{"farm", "hobby farm"}},
	Plot:        {web: []string{"helaarsgrund", "fritidsgrund"}, api: []string{"full year plot", "holiday plot"}},
}

// PropertyTypes lists every known category, sorted.
func PropertyTypes() []PropertyType {
	out := make([]PropertyType, 0, len(propertyTokens))
	for t := range propertyTokens {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ParsePropertyType resolves a category name, case-insensitively.
func ParsePropertyType(s string) (PropertyType, error) {
	t := PropertyType(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := propertyTokens[t]; !ok {
		names := make([]string, 0, len(propertyTokens))
		for _, k := range PropertyTypes() {
			names = append(names, string(k))
		}
		return "", fmt.Errorf("unknown property type %q (valid: %s)", s, strings.Join(names, ", "))
	}
	return t, nil
}

// ExpandPropertyTypes returns the source tokens for the given categories,
// deduplicated and sorted. Unknown categories are ignored.
func ExpandPropertyTypes(types []PropertyType, target Target) []string {
	var all []string
	for _, t := range types {
		tk, ok := propertyTokens[t]
		if !ok {
			continue
		}
		if target == TargetAPI {
			all = append(all, tk.api...)
		} else {
			all = append(all, tk.web...)
		}
	}
	if len(all) == 0 {
		return nil
	}
	return sortedUnique(all)
}
