package worker

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"scifounders/config"
	"scifounders/models"
)

// PatternForgetter drops a learned address pattern for a domain.
type PatternForgetter interface {
	Forget(ctx context.Context, domain string) error
}

// BounceWorker reads delivery failure reports from a mailbox and feeds them
// back into the lead table and the pattern cache.
type BounceWorker struct {
	DB     *gorm.DB
	Finder PatternForgetter
	Logger *logrus.Entry
	Config config.IMAPConfig
	Now    func() time.Time
}

func NewBounceWorker(db *gorm.DB, finder PatternForgetter, cfg config.IMAPConfig, logger *logrus.Entry) *BounceWorker {
	return &BounceWorker{
		DB:     db,
		Finder: finder,
		Logger: logger,
		Config: cfg,
		Now:    time.Now,
	}
}

func (bw *BounceWorker) Start(ctx context.Context) {
	interval := bw.Config.Interval
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	bw.Logger.WithField("interval", interval).Info("Starting bounce worker")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := bw.poll(ctx); err != nil {
				bw.Logger.WithError(err).Error("Bounce mailbox poll failed")
			}
		case <-ctx.Done():
			bw.Logger.Info("Stopping bounce worker")
			return
		}
	}
}

func (bw *BounceWorker) dial() (*client.Client, error) {
	addr := fmt.Sprintf("%s:%d", bw.Config.Host, bw.Config.Port)
	tlsConfig := &tls.Config{ServerName: bw.Config.Host}

	if bw.Config.Port == 993 {
		return client.DialTLS(addr, tlsConfig)
	}
	c, err := client.Dial(addr)
	if err != nil {
		return nil, err
	}
	if ok, _ := c.SupportStartTLS(); ok {
		if err := c.StartTLS(tlsConfig); err != nil {
			_ = c.Logout()
			return nil, err
		}
	}
	return c, nil
}

// poll reads unseen reports, records the failed recipients and flags the
// reports as seen.
func (bw *BounceWorker) poll(ctx context.Context) error {
	c, err := bw.dial()
	if err != nil {
		return fmt.Errorf("failed to connect to IMAP server: %w", err)
	}
	defer c.Logout()

	if err := c.Login(bw.Config.Username, bw.Config.Password); err != nil {
		return fmt.Errorf("failed to login to IMAP server: %w", err)
	}

	mailbox := bw.Config.Mailbox
	if mailbox == "" {
		mailbox = "INBOX"
	}
	if _, err := c.Select(mailbox, false); err != nil {
		return fmt.Errorf("failed to select mailbox: %w", err)
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	ids, err := c.Search(criteria)
	if err != nil {
		return fmt.Errorf("failed to search messages: %w", err)
	}
	if len(ids) == 0 {
		return nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(ids...)

	section := &imap.BodySectionName{Peek: true}
	messages := make(chan *imap.Message, 10)
	done := make(chan error, 1)
	go func() {
		done <- c.Fetch(seqset, []imap.FetchItem{section.FetchItem()}, messages)
	}()

	var failed []string
	for msg := range messages {
		body := msg.GetBody(section)
		if body == nil {
			continue
		}
		addrs, err := ParseBounce(body)
		if err != nil {
			bw.Logger.WithError(err).WithField("seq", msg.SeqNum).Warn("Failed to parse bounce report")
			continue
		}
		failed = append(failed, addrs...)
	}
	if err := <-done; err != nil {
		return fmt.Errorf("error during fetch: %w", err)
	}

	if _, err := bw.MarkBounced(ctx, failed); err != nil {
		return err
	}

	seen := imap.FormatFlagsOp(imap.AddFlags, true)
	if err := c.Store(seqset, seen, []interface{}{imap.SeenFlag}, nil); err != nil {
		return fmt.Errorf("failed to flag messages: %w", err)
	}
	return nil
}

// MarkBounced flags leads with the given addresses as bounced and forgets the
// patterns that produced them. It returns the number of leads changed.
func (bw *BounceWorker) MarkBounced(ctx context.Context, addresses []string) (int, error) {
	if len(addresses) == 0 {
		return 0, nil
	}

	var leads []models.Lead
	err := bw.DB.WithContext(ctx).
		Where("email IN ? AND status <> ?", addresses, models.LeadBounced).
		Find(&leads).Error
	if err != nil {
		return 0, fmt.Errorf("failed to load bounced leads: %w", err)
	}
	if len(leads) == 0 {
		return 0, nil
	}

	now := bw.Now()
	forget := make(map[string]bool)
	ids := make([]uint, 0, len(leads))
	for _, lead := range leads {
		ids = append(ids, lead.ID)
		// Only guessed addresses say anything about the domain's pattern.
		if lead.Status == models.LeadVerified || lead.Status == models.LeadCached {
			forget[lead.Domain] = true
		}
	}

	err = bw.DB.WithContext(ctx).Model(&models.Lead{}).Where("id IN ?", ids).Updates(map[string]interface{}{
		"status":     models.LeadBounced,
		"bounced_at": now,
	}).Error
	if err != nil {
		return 0, fmt.Errorf("failed to mark leads bounced: %w", err)
	}

	for domain := range forget {
		if err := bw.Finder.Forget(ctx, domain); err != nil {
			bw.Logger.WithError(err).WithField("domain", domain).Warn("Failed to forget pattern")
		}
	}

	bw.Logger.WithFields(logrus.Fields{
		"leads":   len(ids),
		"domains": len(forget),
	}).Info("Recorded bounces")
	return len(ids), nil
}

// ParseBounce extracts permanently failed recipients from a delivery status
// notification. Messages that are not bounce reports yield no addresses.
func ParseBounce(r io.Reader) ([]string, error) {
	mr, err := mail.CreateReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to create message reader: %w", err)
	}

	seen := make(map[string]bool)
	var out []string
	add := func(addr string) {
		addr = strings.ToLower(strings.Trim(strings.TrimSpace(addr), "<>"))
		if addr == "" || !strings.Contains(addr, "@") || seen[addr] {
			return
		}
		seen[addr] = true
		out = append(out, addr)
	}

	// Exim names the recipients in a header as well.
	for _, addr := range strings.Split(mr.Header.Get("X-Failed-Recipients"), ",") {
		add(addr)
	}

	for {
		p, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		} else if err != nil {
			return out, fmt.Errorf("failed to read next part: %w", err)
		}

		h, ok := p.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, _ := h.ContentType()
		if !strings.EqualFold(contentType, "message/delivery-status") {
			continue
		}
		addrs, err := parseDeliveryStatus(p.Body)
		if err != nil {
			return out, err
		}
		for _, addr := range addrs {
			add(addr)
		}
	}
	return out, nil
}

// parseDeliveryStatus walks the per-recipient field groups of an RFC 3464
// report and returns the recipients whose action is failed.
func parseDeliveryStatus(r io.Reader) ([]string, error) {
	var (
		out       []string
		recipient string
		action    string
	)
	flush := func() {
		if recipient != "" && strings.EqualFold(action, "failed") {
			out = append(out, recipient)
		}
		recipient, action = "", ""
	}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "final-recipient", "original-recipient":
			// Address type prefix, e.g. "rfc822; jdoe@mit.edu".
			if _, addr, found := strings.Cut(value, ";"); found {
				value = addr
			}
			if recipient == "" || strings.EqualFold(name, "final-recipient") {
				recipient = strings.TrimSpace(value)
			}
		case "action":
			action = value
		}
	}
	flush()
	return out, scanner.Err()
}
