package utils

import (
	"context"
	"errors"
	"net"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scifounders/emailfinder"
)

func startFakeSMTP(t *testing.T, rcpt func(addr string) string) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go serveFakeSMTP(conn, rcpt)
		}
	}()

	_, port, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	return port
}

func serveFakeSMTP(conn net.Conn, rcpt func(addr string) string) {
	defer conn.Close()
	tp := textproto.NewConn(conn)
	_ = tp.PrintfLine("220 fake.test ESMTP")
	for {
		line, err := tp.ReadLine()
		if err != nil {
			return
		}
		cmd := strings.ToUpper(line)
		switch {
		case strings.HasPrefix(cmd, "EHLO"), strings.HasPrefix(cmd, "HELO"):
			_ = tp.PrintfLine("250 fake.test")
		case strings.HasPrefix(cmd, "MAIL FROM:"):
			_ = tp.PrintfLine("250 2.1.0 OK")
		case strings.HasPrefix(cmd, "RCPT TO:"):
			addr := strings.Trim(line[len("RCPT TO:"):], "<> ")
			_ = tp.PrintfLine("%s", rcpt(addr))
		case strings.HasPrefix(cmd, "QUIT"):
			_ = tp.PrintfLine("221 bye")
			return
		default:
			_ = tp.PrintfLine("502 unknown command")
		}
	}
}

func TestSMTPProberClassifiesReplies(t *testing.T) {
	port := startFakeSMTP(t, func(addr string) string {
		switch addr {
		case "jane@uni.edu":
			return "250 2.1.5 OK"
		case "grey@uni.edu":
			return "451 4.7.1 try again later"
		default:
			return "550 5.1.1 no such user"
		}
	})
	p := &SMTPProber{HeloName: "probe.test", MailFrom: "probe@scifounders.org", Port: port, Timeout: 5 * time.Second}
	ctx := context.Background()

	res, err := p.Probe(ctx, "127.0.0.1", "jane@uni.edu")
	require.NoError(t, err)
	assert.True(t, res.Accepted)

	res, err = p.Probe(ctx, "127.0.0.1", "nobody@uni.edu")
	require.NoError(t, err)
	assert.False(t, res.Accepted)
	assert.Equal(t, 550, res.Code)
	assert.False(t, res.Temporary())

	res, err = p.Probe(ctx, "127.0.0.1", "grey@uni.edu")
	require.NoError(t, err)
	assert.True(t, res.Temporary())
}

func TestSMTPProberConnectionError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	_, port, _ := net.SplitHostPort(ln.Addr().String())
	ln.Close()

	p := &SMTPProber{HeloName: "probe.test", MailFrom: "probe@scifounders.org", Port: port, Timeout: time.Second}
	_, err = p.Probe(context.Background(), "127.0.0.1", "jane@uni.edu")
	assert.Error(t, err)
}

func TestMXResolverCaches(t *testing.T) {
	calls := 0
	now := time.Now()
	r := NewMXResolver(time.Minute)
	r.now = func() time.Time { return now }
	r.lookup = func(_ context.Context, name string) ([]*net.MX, error) {
		calls++
		if name == "uni.edu" {
			return []*net.MX{{Host: "mx.uni.edu.", Pref: 10}}, nil
		}
		return nil, errors.New("nxdomain")
	}

	for i := 0; i < 3; i++ {
		mx, err := r.LookupMX(context.Background(), "UNI.edu")
		require.NoError(t, err)
		require.Len(t, mx, 1)
	}
	assert.Equal(t, 1, calls)

	now = now.Add(2 * time.Minute)
	_, err := r.LookupMX(context.Background(), "uni.edu")
	require.NoError(t, err)
	assert.Equal(t, 2, calls)

	_, err = r.LookupMX(context.Background(), "missing.edu")
	assert.Error(t, err)
	_, err = r.LookupMX(context.Background(), "missing.edu")
	assert.Error(t, err)
	assert.Equal(t, 4, calls)
}

type stubResolver map[string][]*net.MX

func (s stubResolver) LookupMX(_ context.Context, domain string) ([]*net.MX, error) {
	if mx, ok := s[domain]; ok {
		return mx, nil
	}
	return nil, errors.New("no such host")
}

type stubProber struct {
	acceptAll bool
	accept    map[string]bool
	code      int
}

func (s stubProber) Probe(_ context.Context, _, address string) (emailfinder.ProbeResult, error) {
	if s.acceptAll || s.accept[address] {
		return emailfinder.ProbeResult{Accepted: true, Code: 250}, nil
	}
	code := s.code
	if code == 0 {
		code = 550
	}
	return emailfinder.ProbeResult{Code: code, Message: "rejected"}, nil
}

func TestAddressVerifier(t *testing.T) {
	resolver := stubResolver{"uni.edu": {{Host: "mx.uni.edu.", Pref: 10}}}
	ctx := context.Background()

	cases := []struct {
		name   string
		prober stubProber
		email  string
		status string
	}{
		{"bad syntax", stubProber{}, "not-an-email", VerifyInvalid},
		{"typo", stubProber{}, "jane@gmai.com", VerifyInvalid},
		{"disposable", stubProber{}, "x@mailinator.com", VerifyDisposable},
		{"no mx", stubProber{}, "jane@nomx.edu", VerifyInvalid},
		{"valid", stubProber{accept: map[string]bool{"jane@uni.edu": true}}, "Jane@UNI.edu", VerifyValid},
		{"catch all", stubProber{acceptAll: true}, "jane@uni.edu", VerifyCatchAll},
		{"rejected", stubProber{}, "jane@uni.edu", VerifyInvalid},
		{"deferred", stubProber{code: 451}, "jane@uni.edu", VerifyUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v := &AddressVerifier{Resolver: resolver, Prober: tc.prober}
			res := v.Verify(ctx, tc.email)
			assert.Equal(t, tc.status, res.Status, res.Details)
		})
	}

	v := &AddressVerifier{Resolver: resolver, Prober: stubProber{}}
	res := v.Verify(ctx, "jane@gmai.com")
	assert.Equal(t, "jane@gmail.com", res.Suggestion)

	res = v.Verify(ctx, "jane@uni.edu")
	assert.Equal(t, "mx.uni.edu", res.MXHost)
	assert.True(t, res.IsBounceRisk)
}

type hostRecorder struct {
	mu    sync.Mutex
	hosts []string
}

func (r *hostRecorder) Probe(_ context.Context, host, address string) (emailfinder.ProbeResult, error) {
	r.mu.Lock()
	r.hosts = append(r.hosts, host)
	r.mu.Unlock()
	if host == "mx-backup.uni.edu" {
		return emailfinder.ProbeResult{Accepted: true, Code: 250}, nil
	}
	return emailfinder.ProbeResult{}, errors.New("connection refused")
}

func TestAddressVerifierProbesPreferredExchangerFirst(t *testing.T) {
	resolver := stubResolver{"uni.edu": {
		{Host: "mx-backup.uni.edu.", Pref: 50},
		{Host: "mx-primary.uni.edu.", Pref: 5},
	}}
	prober := &hostRecorder{}
	v := &AddressVerifier{Resolver: resolver, Prober: prober}

	res := v.Verify(context.Background(), "jane@uni.edu")
	assert.Equal(t, "mx-backup.uni.edu", res.MXHost)
	require.NotEmpty(t, prober.hosts)
	assert.Equal(t, "mx-primary.uni.edu", prober.hosts[0])
	assert.Equal(t, []string{"mx-primary.uni.edu", "mx-backup.uni.edu", "mx-backup.uni.edu"}, prober.hosts)
}
