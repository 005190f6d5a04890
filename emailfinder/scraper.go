package emailfinder

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	emailaddress "github.com/mcnijman/go-emailaddress"
	"github.com/valyala/fasthttp"
	"golang.org/x/net/html"
)

// Fetcher downloads a page for scraping.
type Fetcher interface {
	Fetch(ctx context.Context, pageURL string) ([]byte, error)
}

var (
	obfuscatedAt  = regexp.MustCompile(`(?i)\s*[\[\(\{<]\s*at\s*[\]\)\}>]\s*`)
	obfuscatedDot = regexp.MustCompile(`(?i)\s*[\[\(\{<]\s*dot\s*[\]\)\}>]\s*`)
)

// ExtractContacts returns the distinct addresses on an HTML page that belong
// to domain or its subdomains, in page order. mailto links come first.
func ExtractContacts(page []byte, domain Domain) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("parse page: %w", err)
	}

	seen := make(map[string]bool)
	var found []string
	add := func(addr string) {
		addr = strings.TrimRight(strings.ToLower(strings.TrimSpace(addr)), ".")
		at := strings.LastIndex(addr, "@")
		if at <= 0 || seen[addr] || !domain.Contains(addr[at+1:]) {
			return
		}
		seen[addr] = true
		found = append(found, addr)
	}

	doc.Find(`a[href^="mailto:"], a[href^="MAILTO:"]`).Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		target := href[len("mailto:"):]
		if i := strings.IndexByte(target, '?'); i >= 0 {
			target = target[:i]
		}
		if unescaped, err := url.PathUnescape(target); err == nil {
			target = unescaped
		}
		for _, addr := range strings.Split(target, ",") {
			add(addr)
		}
	})

	doc.Find("script, style, noscript").Remove()
	var b strings.Builder
	for _, n := range doc.Nodes {
		visibleText(n, &b)
	}
	text := obfuscatedAt.ReplaceAllString(b.String(), "@")
	text = obfuscatedDot.ReplaceAllString(text, ".")

	for _, e := range emailaddress.FindWithIcannSuffix([]byte(text), false) {
		add(e.String())
	}
	return found, nil
}

// visibleText joins text nodes with spaces so adjacent cells stay separate tokens.
func visibleText(n *html.Node, b *strings.Builder) {
	if n.Type == html.TextNode {
		b.WriteString(n.Data)
		b.WriteByte(' ')
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		visibleText(c, b)
	}
}

// FastHTTPFetcher fetches pages with a shared fasthttp client.
type FastHTTPFetcher struct {
	client       *fasthttp.Client
	userAgent    string
	maxRedirects int
}

// NewFastHTTPFetcher builds a fetcher with per-request timeouts and a body cap.
func NewFastHTTPFetcher(timeout time.Duration, userAgent string) *FastHTTPFetcher {
	return &FastHTTPFetcher{
		client: &fasthttp.Client{
			ReadTimeout:              timeout,
			WriteTimeout:             timeout,
			MaxResponseBodySize:      4 << 20,
			NoDefaultUserAgentHeader: true,
		},
		userAgent:    userAgent,
		maxRedirects: 5,
	}
}

func (f *FastHTTPFetcher) Fetch(ctx context.Context, pageURL string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	u, err := url.Parse(pageURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("unsupported url %q", pageURL)
	}

	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(pageURL)
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.SetUserAgent(f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	if err := f.client.DoRedirects(req, resp, f.maxRedirects); err != nil {
		return nil, fmt.Errorf("fetch %s: %w", pageURL, err)
	}
	if code := resp.StatusCode(); code < 200 || code >= 300 {
		return nil, fmt.Errorf("fetch %s: unexpected status %d", pageURL, code)
	}
	return append([]byte(nil), resp.Body()...), nil
}
