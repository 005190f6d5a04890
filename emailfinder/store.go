package emailfinder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"scifounders/models"
)

// GormPatternStore keeps learned patterns in the domain_patterns table and
// counts how often each one is served.
type GormPatternStore struct {
	db  *gorm.DB
	ttl time.Duration
	now func() time.Time
}

// NewGormPatternStore creates a store; rows older than ttl are ignored when ttl > 0.
func NewGormPatternStore(db *gorm.DB, ttl time.Duration) *GormPatternStore {
	return &GormPatternStore{db: db, ttl: ttl, now: time.Now}
}

func (s *GormPatternStore) Get(ctx context.Context, domain string) (Pattern, bool, error) {
	var row models.DomainPattern
	err := s.db.WithContext(ctx).Where("domain = ?", cacheKey(domain)).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("load domain pattern: %w", err)
	}
	if s.ttl > 0 && s.now().Sub(row.UpdatedAt) > s.ttl {
		return "", false, nil
	}
	p := Pattern(row.Pattern)
	if !p.Valid() {
		return "", false, nil
	}

	if err := s.Touch(ctx, domain); err != nil {
		logrus.WithError(err).WithField("domain", domain).Warn("could not record pattern hit")
	}
	return p, true, nil
}

// Touch records one served lookup for domain.
func (s *GormPatternStore) Touch(ctx context.Context, domain string) error {
	err := s.db.WithContext(ctx).Model(&models.DomainPattern{}).
		Where("domain = ?", cacheKey(domain)).
		UpdateColumns(map[string]interface{}{
			"hit_count":    gorm.Expr("hit_count + ?", 1),
			"last_used_at": s.now(),
		}).Error
	if err != nil {
		return fmt.Errorf("record pattern hit: %w", err)
	}
	return nil
}

func (s *GormPatternStore) Set(ctx context.Context, domain string, p Pattern) error {
	if !p.Valid() {
		return fmt.Errorf("unknown pattern %q", p)
	}
	now := s.now()
	row := models.DomainPattern{
		Domain:     cacheKey(domain),
		Pattern:    string(p),
		Source:     "finder",
		LastUsedAt: now,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "domain"}},
		DoUpdates: clause.Assignments(map[string]interface{}{"pattern": string(p), "updated_at": now, "last_used_at": now}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("save domain pattern: %w", err)
	}
	return nil
}

func (s *GormPatternStore) Delete(ctx context.Context, domain string) error {
	err := s.db.WithContext(ctx).Unscoped().
		Where("domain = ?", cacheKey(domain)).
		Delete(&models.DomainPattern{}).Error
	if err != nil {
		return fmt.Errorf("delete domain pattern: %w", err)
	}
	return nil
}
