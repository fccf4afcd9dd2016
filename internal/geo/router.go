package geo

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"sync/atomic"

	"lettertool/internal/logger"
	"lettertool/internal/models"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Action is what the router does with a request.
type Action int

const (
	Pass Action = iota
	Redirect
)

func (a Action) String() string {
	if a == Redirect {
		return "redirect"
	}
	return "pass"
}

// Source names the resolver that chose the target country.
type Source string

const (
	SourceNone     Source = ""
	SourceOverride Source = "override"
	SourceHeader   Source = "header"
	SourceFallback Source = "fallback"
)

// Decision is the routing outcome for one request. It is never persisted.
type Decision struct {
	Action          Action
	DetectedCountry string
	OverrideCountry Country
	Target          Country
	Source          Source
	Location        string
}

// Resolver is one step of the defaulting chain. It reports the chosen
// country and which source produced it, or false to defer to the next step.
type Resolver func(r *http.Request) (Country, Source, bool)

// Router redirects requests that are not yet inside a country subtree.
type Router struct {
	cfg       models.GeoConfig
	table     atomic.Pointer[Table]
	exclude   *regexp.Regexp
	resolvers []Resolver
	decisions metric.Int64Counter
	log       *slog.Logger
}

// NewRouter builds a Router from configuration.
func NewRouter(cfg models.GeoConfig) (*Router, error) {
	table, err := TableFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build country table: %w", err)
	}

	rt := &Router{
		cfg: cfg,
		log: logger.Component("geo"),
	}
	rt.table.Store(&table)

	if cfg.ExcludePattern != "" {
		rt.exclude, err = regexp.Compile(cfg.ExcludePattern)
		if err != nil {
			return nil, fmt.Errorf("invalid exclude pattern: %w", err)
		}
	}

	rt.decisions, err = otel.Meter("lettertool/geo").Int64Counter(
		"geo.routing.decisions",
		metric.WithDescription("Number of geo routing decisions by action, target country and source"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create decision counter: %w", err)
	}

	rt.resolvers = []Resolver{
		rt.overrideResolver,
		rt.headerResolver,
		rt.fallbackResolver,
	}

	return rt, nil
}

// Table returns the membership table currently in use.
func (rt *Router) Table() Table {
	return *rt.table.Load()
}

// SetTable replaces the membership table. Safe for concurrent use with Decide.
func (rt *Router) SetTable(t Table) {
	rt.table.Store(&t)
	rt.log.Info("Country table updated", "groups", len(t.Groups), "default", string(t.Default))
}

// Decide computes the routing decision for r without writing anything.
func (rt *Router) Decide(r *http.Request) Decision {
	path := r.URL.Path
	if path == "" {
		path = "/"
	}

	if rt.excluded(path) {
		return Decision{Action: Pass}
	}

	if _, ok := CountryOfPath(path); ok {
		return Decision{Action: Pass}
	}

	d := Decision{
		Action:          Redirect,
		DetectedCountry: rt.detectedCode(r),
		OverrideCountry: rt.overrideCountry(r),
	}

	for _, resolve := range rt.resolvers {
		if c, src, ok := resolve(r); ok {
			d.Target, d.Source = c, src
			break
		}
	}
	if d.Target == "" {
		d.Target, d.Source = rt.Table().Default, SourceFallback
	}

	// The Location keeps the request's escaping so encoded separators in the
	// sub-path survive the redirect.
	escaped := r.URL.EscapedPath()
	if escaped == "" {
		escaped = "/"
	}
	d.Location = redirectLocation(d.Target, escaped, r.URL.RawQuery)
	return d
}

// Middleware redirects requests outside a country subtree and passes the rest
// to next unchanged.
func (rt *Router) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d := rt.Decide(r)
		rt.record(r.Context(), d)

		if d.Action == Pass {
			next.ServeHTTP(w, r)
			return
		}

		http.SetCookie(w, &http.Cookie{
			Name:     rt.cfg.DetectedCookie,
			Value:    string(d.Target),
			Path:     "/",
			MaxAge:   int(rt.cfg.CookieMaxAge.Seconds()),
			HttpOnly: false,
			SameSite: http.SameSiteLaxMode,
		})

		rt.log.Debug("Geo redirect",
			"path", r.URL.Path,
			"location", d.Location,
			"detected", d.DetectedCountry,
			"source", string(d.Source),
		)

		http.Redirect(w, r, d.Location, rt.redirectStatus())
	})
}

func (rt *Router) overrideResolver(r *http.Request) (Country, Source, bool) {
	if c := rt.overrideCountry(r); c != "" {
		return c, SourceOverride, true
	}
	return "", SourceNone, false
}

func (rt *Router) headerResolver(r *http.Request) (Country, Source, bool) {
	code := strings.TrimSpace(r.Header.Get(rt.cfg.Header))
	if code == "" {
		return "", SourceNone, false
	}
	return rt.Table().Lookup(code), SourceHeader, true
}

func (rt *Router) fallbackResolver(r *http.Request) (Country, Source, bool) {
	return rt.Table().Lookup(rt.cfg.FallbackCode), SourceFallback, true
}

// overrideCountry returns the visitor's valid override, or "" when the cookie
// is absent or names an unsupported country.
func (rt *Router) overrideCountry(r *http.Request) Country {
	cookie, err := r.Cookie(rt.cfg.OverrideCookie)
	if err != nil {
		return ""
	}
	c, ok := ParseCountry(cookie.Value)
	if !ok {
		return ""
	}
	return c
}

func (rt *Router) detectedCode(r *http.Request) string {
	if code := strings.TrimSpace(r.Header.Get(rt.cfg.Header)); code != "" {
		return strings.ToUpper(code)
	}
	return strings.ToUpper(rt.cfg.FallbackCode)
}

func (rt *Router) excluded(path string) bool {
	for _, prefix := range rt.cfg.ExcludePrefixes {
		if prefix != "" && strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return rt.exclude != nil && rt.exclude.MatchString(path)
}

func (rt *Router) redirectStatus() int {
	if rt.cfg.RedirectStatus == http.StatusPermanentRedirect {
		return http.StatusPermanentRedirect
	}
	return http.StatusTemporaryRedirect
}

func (rt *Router) record(ctx context.Context, d Decision) {
	rt.decisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("action", d.Action.String()),
		attribute.String("country", string(d.Target)),
		attribute.String("source", string(d.Source)),
	))
}

// CountryOfPath reports the country subtree a path already belongs to.
func CountryOfPath(path string) (Country, bool) {
	for _, c := range Countries {
		prefix := c.Prefix()
		if path == prefix || strings.HasPrefix(path, prefix+"/") {
			return c, true
		}
	}
	return "", false
}

func redirectLocation(c Country, path, rawQuery string) string {
	loc := c.Prefix()
	if path != "/" {
		loc += path
	}
	if rawQuery != "" {
		loc += "?" + rawQuery
	}
	return loc
}
