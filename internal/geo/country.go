// Package geo decides which country subtree serves a request and redirects
// requests that arrive outside one. The decision is taken from an ordered
// chain of resolvers: the visitor's override cookie, then the edge network's
// geo header, then a configured fallback code. It never fails: unknown or
// missing input always lands on the default country.
package geo

import (
	"fmt"
	"strings"

	"lettertool/internal/models"
)

// Country is one of the site's country subtrees.
type Country string

const (
	Germany       Country = "de"
	Canada        Country = "ca"
	UnitedKingdom Country = "uk"
	France        Country = "fr"
	UnitedStates  Country = "us"
)

// Countries lists every supported country subtree, in the order of
// models.SupportedCountries.
var Countries = func() []Country {
	cs := make([]Country, len(models.SupportedCountries))
	for i, code := range models.SupportedCountries {
		cs[i] = Country(code)
	}
	return cs
}()

// ParseCountry returns the Country for s, ignoring case and surrounding space.
func ParseCountry(s string) (Country, bool) {
	c := Country(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Countries {
		if c == known {
			return c, true
		}
	}
	return "", false
}

var countryInfo = map[Country]struct{ name, language string }{
	Germany:       {"Germany", "de"},
	Canada:        {"Canada", "en"},
	UnitedKingdom: {"United Kingdom", "en"},
	France:        {"France", "fr"},
	UnitedStates:  {"United States", "en"},
}

// Name is the English display name of the country.
func (c Country) Name() string {
	return countryInfo[c].name
}

// Language is the primary content language of the country subtree.
func (c Country) Language() string {
	return countryInfo[c].language
}

// Prefix is the path prefix of the country subtree, e.g. "/de".
func (c Country) Prefix() string {
	return "/" + string(c)
}

// Group maps ISO 3166-1 alpha-2 codes onto one country subtree.
type Group struct {
	Country Country
	Codes   map[string]struct{}
}

// Contains reports whether code (any case) belongs to the group.
func (g Group) Contains(code string) bool {
	_, ok := g.Codes[strings.ToUpper(code)]
	return ok
}

// Table is the ordered membership table used to map a detected code to a
// country. Groups are checked in order and the first match wins; codes in no
// group map to Default.
type Table struct {
	Groups  []Group
	Default Country
}

// NewGroup builds a Group from a list of codes.
func NewGroup(country Country, codes ...string) Group {
	g := Group{Country: country, Codes: make(map[string]struct{}, len(codes))}
	for _, code := range codes {
		g.Codes[strings.ToUpper(strings.TrimSpace(code))] = struct{}{}
	}
	return g
}

// Lookup maps a detected country code to a Country.
func (t Table) Lookup(code string) Country {
	code = strings.TrimSpace(code)
	if code != "" {
		for _, g := range t.Groups {
			if g.Contains(code) {
				return g.Country
			}
		}
	}
	return t.Default
}

// TableFromConfig builds the membership table from configuration. An empty
// group list falls back to models.DefaultCountryGroups.
func TableFromConfig(cfg models.GeoConfig) (Table, error) {
	def, ok := ParseCountry(cfg.DefaultCountry)
	if !ok {
		return Table{}, fmt.Errorf("unsupported default country: %q", cfg.DefaultCountry)
	}

	groups := cfg.Groups
	if len(groups) == 0 {
		groups = models.DefaultCountryGroups()
	}

	t := Table{Default: def, Groups: make([]Group, 0, len(groups))}
	for i, gc := range groups {
		c, ok := ParseCountry(gc.Country)
		if !ok {
			return Table{}, fmt.Errorf("group %d: unsupported country: %q", i, gc.Country)
		}
		t.Groups = append(t.Groups, NewGroup(c, gc.Codes...))
	}
	return t, nil
}
