package utils

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"net/textproto"
	"strings"
	"sync"
	"time"

	"github.com/badoux/checkmail"
	"github.com/google/uuid"

	"scifounders/emailfinder"
)

type VerificationResult struct {
	Email        string `json:"email"`
	Status       string `json:"status"` // valid, invalid, disposable, catch_all, unknown
	Details      string `json:"details"`
	Suggestion   string `json:"suggestion,omitempty"`
	MXHost       string `json:"mx_host,omitempty"`
	IsReachable  bool   `json:"is_reachable"`
	IsBounceRisk bool   `json:"is_bounce_risk"`
	IsFree       bool   `json:"is_free_provider"`
}

const (
	VerifyValid      = "valid"
	VerifyInvalid    = "invalid"
	VerifyDisposable = "disposable"
	VerifyCatchAll   = "catch_all"
	VerifyUnknown    = "unknown"
)

var (
	disposableDomains = loadDisposableDomains()

	freeEmailProviders = map[string]bool{
		"gmail.com": true, "yahoo.com": true, "outlook.com": true, "hotmail.com": true,
		"aol.com": true, "protonmail.com": true, "icloud.com": true, "mail.com": true,
		"yandex.com": true, "zoho.com": true, "gmx.com": true,
	}

	// Common email typos
	commonTypos = map[string]string{
		"gmai.com":     "gmail.com",
		"gmal.com":     "gmail.com",
		"gmail.co":     "gmail.com",
		"yaho.com":     "yahoo.com",
		"hotmai.com":   "hotmail.com",
		"outlok.com":   "outlook.com",
		"stanfrod.edu": "stanford.edu",
		"harvad.edu":   "harvard.edu",
	}
)

// MXResolver looks up mail exchangers and caches successful answers.
type MXResolver struct {
	lookup func(ctx context.Context, name string) ([]*net.MX, error)
	ttl    time.Duration
	now    func() time.Time

	mu    sync.RWMutex
	cache map[string]mxEntry
}

type mxEntry struct {
	records []*net.MX
	expires time.Time
}

func NewMXResolver(ttl time.Duration) *MXResolver {
	return &MXResolver{
		lookup: net.DefaultResolver.LookupMX,
		ttl:    ttl,
		now:    time.Now,
		cache:  make(map[string]mxEntry),
	}
}

func (r *MXResolver) LookupMX(ctx context.Context, domain string) ([]*net.MX, error) {
	domain = strings.ToLower(domain)

	r.mu.RLock()
	entry, ok := r.cache[domain]
	r.mu.RUnlock()
	if ok && r.now().Before(entry.expires) {
		return entry.records, nil
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	records, err := r.lookup(ctx, domain)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.cache[domain] = mxEntry{records: records, expires: r.now().Add(r.ttl)}
	r.mu.Unlock()
	return records, nil
}

// SMTPProber asks a mail exchanger about one recipient and hangs up before DATA.
type SMTPProber struct {
	HeloName string
	MailFrom string
	Port     string
	Timeout  time.Duration
}

func (p *SMTPProber) Probe(ctx context.Context, mxHost, address string) (emailfinder.ProbeResult, error) {
	port := p.Port
	if port == "" {
		port = "25"
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(mxHost, port))
	if err != nil {
		return emailfinder.ProbeResult{}, err
	}
	defer conn.Close()

	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return emailfinder.ProbeResult{}, err
	}

	client, err := smtp.NewClient(conn, mxHost)
	if err != nil {
		return emailfinder.ProbeResult{}, fmt.Errorf("greeting from %s: %w", mxHost, err)
	}
	defer client.Close()

	if err := client.Hello(p.HeloName); err != nil {
		return emailfinder.ProbeResult{}, fmt.Errorf("HELO failed: %w", err)
	}

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: mxHost}); err != nil {
			return emailfinder.ProbeResult{}, fmt.Errorf("STARTTLS failed: %w", err)
		}
	}

	if err := client.Mail(p.MailFrom); err != nil {
		// Greylisting shows up as a 4xx on MAIL FROM.
		if code, msg := replyCode(err); code >= 400 && code < 500 {
			return emailfinder.ProbeResult{Code: code, Message: msg}, nil
		}
		return emailfinder.ProbeResult{}, fmt.Errorf("MAIL FROM failed: %w", err)
	}

	err = client.Rcpt(address)
	_ = client.Quit()
	if err == nil {
		return emailfinder.ProbeResult{Accepted: true, Code: 250}, nil
	}
	if code, msg := replyCode(err); code > 0 {
		return emailfinder.ProbeResult{Code: code, Message: msg}, nil
	}
	return emailfinder.ProbeResult{}, fmt.Errorf("RCPT TO failed: %w", err)
}

func replyCode(err error) (int, string) {
	var te *textproto.Error
	if errors.As(err, &te) {
		return te.Code, te.Msg
	}
	return 0, ""
}

// AddressVerifier checks a single address end to end.
type AddressVerifier struct {
	Resolver emailfinder.Resolver
	Prober   emailfinder.Prober
}

func (v *AddressVerifier) Verify(ctx context.Context, email string) *VerificationResult {
	email = strings.ToLower(strings.TrimSpace(email))
	result := &VerificationResult{
		Email:        email,
		Status:       VerifyUnknown,
		IsBounceRisk: true,
	}

	if err := checkmail.ValidateFormat(email); err != nil {
		result.Status = VerifyInvalid
		result.Details = "Invalid email format: " + err.Error()
		return result
	}

	at := strings.LastIndex(email, "@")
	localPart, domain := email[:at], email[at+1:]
	result.IsFree = freeEmailProviders[domain]

	if suggested, ok := commonTypos[domain]; ok {
		result.Status = VerifyInvalid
		result.Suggestion = localPart + "@" + suggested
		result.Details = fmt.Sprintf("Possible typo, did you mean %s?", result.Suggestion)
		return result
	}

	if disposableDomains[domain] {
		result.Status = VerifyDisposable
		result.Details = "Disposable email domain"
		return result
	}

	records, err := v.Resolver.LookupMX(ctx, domain)
	hosts := emailfinder.MXHosts(records)
	if err != nil || len(hosts) == 0 {
		result.Status = VerifyInvalid
		result.Details = "Domain has no MX records"
		return result
	}

	for _, host := range hosts {
		catchAll, err := v.Prober.Probe(ctx, host, "nx-"+uuid.NewString()[:13]+"@"+domain)
		if err != nil {
			continue
		}
		result.MXHost = host

		pr, err := v.Prober.Probe(ctx, host, email)
		if err != nil {
			continue
		}
		switch {
		case pr.Accepted && catchAll.Accepted:
			result.Status = VerifyCatchAll
			result.Details = "Server accepts all emails (catch-all)"
			result.IsReachable = true
		case pr.Accepted:
			result.Status = VerifyValid
			result.Details = "Recipient accepted"
			result.IsReachable = true
			result.IsBounceRisk = false
		case pr.Temporary():
			result.Details = fmt.Sprintf("Temporary failure: %d %s", pr.Code, pr.Message)
		default:
			result.Status = VerifyInvalid
			result.Details = fmt.Sprintf("Mailbox rejected: %d %s", pr.Code, pr.Message)
		}
		return result
	}

	result.Details = "All verification attempts failed"
	return result
}

func loadDisposableDomains() map[string]bool {
	domains := make(map[string]bool)
	for _, d := range strings.Split(disposableDomainList, "\n") {
		d = strings.TrimSpace(d)
		if d != "" {
			domains[d] = true
		}
	}
	return domains
}

const disposableDomainList = `
mailinator.com
tempmail.org
10minutemail.com
guerrillamail.com
trashmail.com
temp-mail.org
yopmail.com
maildrop.cc
dispostable.com
fakeinbox.com
throwawaymail.com
mailnesia.com
getairmail.com
mytemp.email
temp-mail.io
tempail.com
tempinbox.com
discard.email
mailcatch.com
mintemail.com
spamgourmet.com
spam4.me
trash-mail.com
trashmail.de
trashmail.net
sharklasers.com
grr.la
guerrillamail.net
emailondeck.com
burnermail.io
`
