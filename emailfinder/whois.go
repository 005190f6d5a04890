package emailfinder

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/likexian/whois"
)

var organizationKeys = []string{
	"registrant organization",
	"registrant organisation",
	"organization",
	"organisation",
	"orgname",
	"org-name",
	"org",
}

// ParseWhoisOrganization pulls the registrant organization out of a raw
// WHOIS response. EDUCAUSE replies put it on the line after "Registrant:".
func ParseWhoisOrganization(raw string) string {
	sc := bufio.NewScanner(strings.NewReader(raw))
	best, bestRank := "", len(organizationKeys)
	afterRegistrant := false

	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if afterRegistrant {
			afterRegistrant = false
			if line != "" && !strings.Contains(line, ":") && bestRank > 0 {
				best, bestRank = line, 0
			}
		}
		if strings.EqualFold(line, "registrant:") {
			afterRegistrant = true
			continue
		}

		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)
		if value == "" || strings.Contains(strings.ToLower(value), "redacted") {
			continue
		}
		for rank, k := range organizationKeys {
			if key == k && rank < bestRank {
				best, bestRank = value, rank
				break
			}
		}
	}
	return best
}

// LookupOrganization queries WHOIS for the registrable domain.
func LookupOrganization(domain Domain) (string, error) {
	name := domain.Registrable
	if name == "" {
		name = domain.Host
	}
	raw, err := whois.Whois(name)
	if err != nil {
		return "", fmt.Errorf("whois %s: %w", name, err)
	}
	return ParseWhoisOrganization(raw), nil
}
