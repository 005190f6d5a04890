package emailfinder

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

var (
	ErrInvalidName   = errors.New("invalid name")
	ErrInvalidDomain = errors.New("invalid domain")
	ErrNoMailServer  = errors.New("domain has no mail server")
)

// Resolver looks up mail exchangers.
type Resolver interface {
	LookupMX(ctx context.Context, domain string) ([]*net.MX, error)
}

// Prober asks a mail exchanger whether it would accept address.
// A non-nil error means the conversation failed before RCPT got an answer.
type Prober interface {
	Probe(ctx context.Context, mxHost, address string) (ProbeResult, error)
}

// ProbeResult is the server's reply to RCPT TO.
type ProbeResult struct {
	Accepted bool   `json:"accepted"`
	Code     int    `json:"code"`
	Message  string `json:"message,omitempty"`
}

// Temporary reports a 4xx reply.
func (r ProbeResult) Temporary() bool {
	return r.Code >= 400 && r.Code < 500
}

// Status is the outcome of a lookup.
type Status string

const (
	StatusScraped  Status = "scraped"
	StatusCached   Status = "cached"
	StatusVerified Status = "verified"
	StatusCatchAll Status = "catch_all"
	StatusNotFound Status = "not_found"
	StatusUnknown  Status = "unknown"
)

// Config bounds how hard a lookup leans on a mail server.
type Config struct {
	MaxProbes     int
	MinDelay      time.Duration
	MaxDelay      time.Duration
	RatePerDomain float64 // probes per second, <= 0 disables throttling
}

func DefaultConfig() Config {
	return Config{
		MaxProbes:     5,
		MinDelay:      time.Second,
		MaxDelay:      3 * time.Second,
		RatePerDomain: 1,
	}
}

// Request describes one person to find.
type Request struct {
	FirstName string `json:"first_name" validate:"required,max=100"`
	LastName  string `json:"last_name" validate:"required,max=100"`
	Domain    string `json:"domain" validate:"required_without=URL,max=255"`
	URL       string `json:"url" validate:"omitempty,url,max=2048"`
	Scrape    bool   `json:"scrape"`
}

// Result is what a lookup learned.
type Result struct {
	Email         string   `json:"email,omitempty"`
	Pattern       Pattern  `json:"pattern,omitempty"`
	Status        Status   `json:"status"`
	Candidates    []string `json:"candidates"`
	MXHost        string   `json:"mx_host,omitempty"`
	CatchAll      bool     `json:"catch_all"`
	ProbesUsed    int      `json:"probes_used"`
	Domain        Domain   `json:"domain"`
	Organization  string   `json:"organization,omitempty"`
	Details       string   `json:"details,omitempty"`
	ScrapedEmails []string `json:"scraped_emails,omitempty"`
}

// Finder discovers addresses by scraping, cached patterns and SMTP probing.
type Finder struct {
	resolver    Resolver
	prober      Prober
	cache       PatternCache
	fetcher     Fetcher
	cfg         Config
	log         *logrus.Entry
	sleep       func(ctx context.Context, d time.Duration) error
	randomLocal func() string

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

type Option func(*Finder)

func WithFetcher(f Fetcher) Option { return func(fd *Finder) { fd.fetcher = f } }

func WithConfig(cfg Config) Option { return func(fd *Finder) { fd.cfg = cfg } }

func WithLogger(l *logrus.Entry) Option { return func(fd *Finder) { fd.log = l } }

// WithSleeper replaces the delay between probes. Tests pass a no-op.
func WithSleeper(s func(ctx context.Context, d time.Duration) error) Option {
	return func(fd *Finder) { fd.sleep = s }
}

// WithRandomLocal replaces the generator for catch-all probe local parts.
func WithRandomLocal(g func() string) Option { return func(fd *Finder) { fd.randomLocal = g } }

func New(resolver Resolver, prober Prober, cache PatternCache, opts ...Option) *Finder {
	f := &Finder{
		resolver:    resolver,
		prober:      prober,
		cache:       cache,
		cfg:         DefaultConfig(),
		log:         logrus.WithField("component", "finder"),
		sleep:       sleepContext,
		randomLocal: randomLocalPart,
		limiters:    make(map[string]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.cache == nil {
		f.cache = NewMemoryPatternCache(0)
	}
	if f.cfg.MaxProbes <= 0 {
		f.cfg.MaxProbes = DefaultConfig().MaxProbes
	}
	if f.cfg.MaxDelay < f.cfg.MinDelay {
		f.cfg.MaxDelay = f.cfg.MinDelay
	}
	return f
}

// Find runs one lookup. Input errors wrap ErrInvalidName or ErrInvalidDomain.
func (f *Finder) Find(ctx context.Context, req Request) (*Result, error) {
	person, err := NewPerson(req.FirstName, req.LastName)
	if err != nil {
		return nil, err
	}
	source := req.Domain
	if source == "" {
		source = req.URL
	}
	domain, err := NormalizeDomain(source)
	if err != nil {
		return nil, err
	}

	candidates := Generate(person, domain.Host)
	res := &Result{
		Status:     StatusNotFound,
		Domain:     domain,
		Candidates: Emails(candidates),
	}
	log := f.log.WithFields(logrus.Fields{"domain": domain.Host, "first": person.First, "last": person.Last})

	if req.Scrape && req.URL != "" && f.fetcher != nil {
		if found := f.scrape(ctx, req.URL, person, domain, res, log); found {
			return res, nil
		}
	}

	if p, key, ok := f.cachedPattern(ctx, domain); ok {
		res.Status = StatusCached
		res.Pattern = p
		res.Email = p.Address(person, domain.Host)
		res.Details = "pattern cached for " + key
		return res, nil
	}

	mxHosts, err := f.lookupMX(ctx, domain)
	if err != nil {
		return nil, err
	}

	return f.probe(ctx, mxHosts, domain, candidates, res, log)
}

// Forget drops the cached pattern for domain and its registrable parent.
func (f *Finder) Forget(ctx context.Context, domain string) error {
	d, err := NormalizeDomain(domain)
	if err != nil {
		return err
	}
	for _, key := range d.Lookups() {
		if err := f.cache.Delete(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

func (f *Finder) scrape(ctx context.Context, pageURL string, person Person, domain Domain, res *Result, log *logrus.Entry) bool {
	body, err := f.fetcher.Fetch(ctx, pageURL)
	if err != nil {
		log.WithError(err).Warn("scrape failed, falling back to probing")
		res.Details = "scrape failed: " + err.Error()
		return false
	}
	emails, err := ExtractContacts(body, domain)
	if err != nil {
		log.WithError(err).Warn("could not parse scraped page")
		return false
	}
	res.ScrapedEmails = emails

	for _, email := range emails {
		p, ok := InferPattern(person, email)
		if !ok {
			continue
		}
		addrDomain := email[strings.LastIndex(email, "@")+1:]
		res.Status = StatusScraped
		res.Email = email
		res.Pattern = p
		res.Details = "found on " + pageURL
		if err := f.cache.Set(ctx, addrDomain, p); err != nil {
			log.WithError(err).Warn("could not cache scraped pattern")
		}
		if addrDomain != domain.Host {
			if err := f.cache.Set(ctx, domain.Host, p); err != nil {
				log.WithError(err).WithField("domain", domain.Host).Warn("could not cache scraped pattern")
			}
		}
		return true
	}
	return false
}

func (f *Finder) cachedPattern(ctx context.Context, domain Domain) (Pattern, string, bool) {
	for _, key := range domain.Lookups() {
		p, ok, err := f.cache.Get(ctx, key)
		if err != nil {
			f.log.WithError(err).WithField("domain", key).Warn("pattern cache read failed")
			continue
		}
		if ok {
			return p, key, true
		}
	}
	return "", "", false
}

func (f *Finder) lookupMX(ctx context.Context, domain Domain) ([]string, error) {
	var lastErr error
	for _, name := range domain.Lookups() {
		records, err := f.resolver.LookupMX(ctx, name)
		if err != nil {
			lastErr = err
			continue
		}
		hosts := MXHosts(records)
		if len(hosts) > 0 {
			return hosts, nil
		}
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if lastErr != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrNoMailServer, domain.Host, lastErr)
	}
	return nil, fmt.Errorf("%w: %s", ErrNoMailServer, domain.Host)
}

func (f *Finder) probe(ctx context.Context, hosts []string, domain Domain, candidates []Candidate, res *Result, log *logrus.Entry) (*Result, error) {
	limiter := f.limiter(domain.Registrable)

	catchAll, host, err := f.probeAny(ctx, limiter, hosts, f.randomLocal()+"@"+domain.Host)
	if err != nil && ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if host != "" {
		res.MXHost = host
	}
	if err == nil && catchAll.Accepted {
		res.CatchAll = true
		res.Status = StatusCatchAll
		if len(candidates) > 0 {
			res.Email = candidates[0].Email
			res.Pattern = candidates[0].Pattern
		}
		res.Details = "server accepts any recipient"
		log.Info("catch-all domain")
		return res, nil
	}

	temporary := 0
	limit := f.cfg.MaxProbes
	if limit > len(candidates) {
		limit = len(candidates)
	}
	for i := 0; i < limit; i++ {
		c := candidates[i]
		if err := f.sleep(ctx, f.delay()); err != nil {
			return nil, err
		}

		pr, host, err := f.probeAny(ctx, limiter, hosts, c.Email)
		res.ProbesUsed++
		if host != "" {
			res.MXHost = host
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.WithError(err).WithField("candidate", c.Email).Debug("probe failed")
			temporary++
			continue
		}
		if pr.Accepted {
			res.Status = StatusVerified
			res.Email = c.Email
			res.Pattern = c.Pattern
			res.Details = fmt.Sprintf("accepted by %s", res.MXHost)
			if err := f.cache.Set(ctx, domain.Host, c.Pattern); err != nil {
				log.WithError(err).Warn("could not cache verified pattern")
			}
			return res, nil
		}
		if pr.Temporary() {
			temporary++
		}
	}

	if res.ProbesUsed > 0 && temporary == res.ProbesUsed {
		res.Status = StatusUnknown
		res.Details = "mail server deferred every probe"
	} else {
		res.Status = StatusNotFound
		res.Details = "no candidate was accepted"
	}
	return res, nil
}

// probeAny tries each MX host in preference order until one answers.
func (f *Finder) probeAny(ctx context.Context, limiter *rate.Limiter, hosts []string, address string) (ProbeResult, string, error) {
	var lastErr error
	for _, host := range hosts {
		if err := limiter.Wait(ctx); err != nil {
			return ProbeResult{}, "", err
		}
		pr, err := f.prober.Probe(ctx, host, address)
		if err == nil {
			return pr, host, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return ProbeResult{}, "", lastErr
}

func (f *Finder) limiter(domain string) *rate.Limiter {
	f.mu.Lock()
	defer f.mu.Unlock()
	if l, ok := f.limiters[domain]; ok {
		return l
	}
	limit := rate.Inf
	if f.cfg.RatePerDomain > 0 {
		limit = rate.Limit(f.cfg.RatePerDomain)
	}
	l := rate.NewLimiter(limit, 1)
	f.limiters[domain] = l
	return l
}

func (f *Finder) delay() time.Duration {
	spread := f.cfg.MaxDelay - f.cfg.MinDelay
	if spread <= 0 {
		return f.cfg.MinDelay
	}
	return f.cfg.MinDelay + rand.N(spread)
}

// MXHosts returns the exchanger names in preference order, dropping empty
// records and the trailing root dot.
func MXHosts(records []*net.MX) []string {
	sorted := make([]*net.MX, 0, len(records))
	for _, r := range records {
		if r != nil && strings.TrimSuffix(r.Host, ".") != "" {
			sorted = append(sorted, r)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Pref < sorted[j].Pref })
	hosts := make([]string, len(sorted))
	for i, r := range sorted {
		hosts[i] = strings.TrimSuffix(r.Host, ".")
	}
	return hosts
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func randomLocalPart() string {
	return "nx-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}
