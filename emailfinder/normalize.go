package emailfinder

import (
	"fmt"
	"net"
	"net/url"
	"strings"
	"unicode"

	"golang.org/x/net/publicsuffix"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Letters that do not decompose into a base letter plus a combining mark.
var nameFolds = strings.NewReplacer(
	"ß", "ss",
	"æ", "ae",
	"œ", "oe",
	"ø", "o",
	"ł", "l",
	"đ", "d",
	"ð", "d",
	"þ", "th",
	"ı", "i",
)

// NormalizeName lowercases a name, strips diacritics and drops everything
// that is not an ASCII letter, so "José-María" becomes "josemaria".
func NormalizeName(name string) (string, error) {
	folded := nameFolds.Replace(strings.ToLower(strings.TrimSpace(name)))

	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, folded)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrInvalidName, name, err)
	}

	var b strings.Builder
	for _, r := range stripped {
		if r >= 'a' && r <= 'z' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return b.String(), nil
}

// Domain is a normalized mail domain with its registrable parent.
type Domain struct {
	Host        string `json:"host"`
	Registrable string `json:"registrable"`
}

// Lookups returns the host followed by the registrable domain when they differ.
func (d Domain) Lookups() []string {
	if d.Registrable == "" || d.Registrable == d.Host {
		return []string{d.Host}
	}
	return []string{d.Host, d.Registrable}
}

// Contains reports whether addrDomain is the domain itself or one of its subdomains.
func (d Domain) Contains(addrDomain string) bool {
	addrDomain = strings.ToLower(addrDomain)
	base := d.Registrable
	if base == "" {
		base = d.Host
	}
	return addrDomain == base || strings.HasSuffix(addrDomain, "."+base)
}

// NormalizeDomain accepts an email address, URL or bare host.
func NormalizeDomain(input string) (Domain, error) {
	s := strings.ToLower(strings.TrimSpace(input))
	if s == "" {
		return Domain{}, fmt.Errorf("%w: empty", ErrInvalidDomain)
	}

	switch {
	case strings.Contains(s, "://"):
		u, err := url.Parse(s)
		if err != nil {
			return Domain{}, fmt.Errorf("%w: %q: %v", ErrInvalidDomain, input, err)
		}
		s = u.Hostname()
	case strings.Contains(s, "@"):
		s = s[strings.LastIndex(s, "@")+1:]
	}
	if i := strings.IndexAny(s, "/?#"); i >= 0 {
		s = s[:i]
	}
	if host, _, err := net.SplitHostPort(s); err == nil {
		s = host
	}
	s = strings.TrimSuffix(strings.TrimPrefix(s, "www."), ".")

	if !validHost(s) {
		return Domain{}, fmt.Errorf("%w: %q", ErrInvalidDomain, input)
	}

	registrable, err := publicsuffix.EffectiveTLDPlusOne(s)
	if err != nil {
		registrable = s
	}
	return Domain{Host: s, Registrable: registrable}, nil
}

func validHost(s string) bool {
	if len(s) < 3 || len(s) > 253 || !strings.Contains(s, ".") {
		return false
	}
	if net.ParseIP(s) != nil {
		return false
	}
	for _, label := range strings.Split(s, ".") {
		if label == "" || len(label) > 63 || label[0] == '-' || label[len(label)-1] == '-' {
			return false
		}
		for _, r := range label {
			if !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '-') {
				return false
			}
		}
	}
	return true
}
