package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"scifounders/emailfinder"
	"scifounders/models"
)

var (
	DB        *gorm.DB
	AppConfig Config
	envLoaded bool
)

type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

type OAuthConfig struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	RedirectURI  string `json:"redirect_uri"`
}

// FinderConfig tunes the email discovery probes.
type FinderConfig struct {
	HeloName          string        `json:"helo_name"`
	MailFrom          string        `json:"mail_from"`
	MaxProbes         int           `json:"max_probes"`
	MinDelay          time.Duration `json:"min_delay"`
	MaxDelay          time.Duration `json:"max_delay"`
	SMTPTimeout       time.Duration `json:"smtp_timeout"`
	RatePerDomain     float64       `json:"rate_per_domain"`
	CacheTTL          time.Duration `json:"cache_ttl"`
	RequestsPerMinute int           `json:"requests_per_minute"`
	BulkWorkers       int           `json:"bulk_workers"`
}

type IMAPConfig struct {
	Enabled  bool          `json:"enabled"`
	Host     string        `json:"host"`
	Port     int           `json:"port"`
	Username string        `json:"username"`
	Password string        `json:"-"`
	Mailbox  string        `json:"mailbox"`
	Interval time.Duration `json:"interval"`
}

type Config struct {
	Environment    string      `json:"environment"`
	ServerPort     string      `json:"server_port"`
	FrontendURL    string      `json:"frontend_url"`
	CORSOrigins    []string    `json:"cors_origins"`
	JWTSecret      string      `json:"-"`
	Google         OAuthConfig `json:"google"`
	DBHost         string      `json:"db_host"`
	DBPort         string      `json:"db_port"`
	DBUser         string      `json:"db_user"`
	DBPassword     string      `json:"-"`
	DBName         string      `json:"db_name"`
	DBSSLMode      string      `json:"db_ssl_mode"`
	DBMaxIdleConns int         `json:"db_max_idle_conns"`
	DBMaxOpenConns int         `json:"db_max_open_conns"`
	AdminEmails    []string    `json:"admin_emails"`

	StripeSecretKey      string `json:"-"`
	StripePublishableKey string `json:"stripe_publishable_key"`
	StripeWebhookSecret  string `json:"-"`
	MembershipPriceCents int64  `json:"membership_price_cents"`

	Redis        RedisConfig  `json:"redis"`
	SMTPHost     string       `json:"smtp_host"`
	SMTPPort     int          `json:"smtp_port"`
	SMTPUsername string       `json:"smtp_username"`
	SMTPPassword string       `json:"-"`
	FromEmail    string       `json:"from_email"`
	SentryDSN    string       `json:"-"`
	Finder       FinderConfig `json:"finder"`
	BounceIMAP   IMAPConfig   `json:"bounce_imap"`
}

func init() {
	// Try to load .env file, but don't fail if it doesn't exist
	_ = godotenv.Load()
	envLoaded = true
}

func LoadConfig() error {
	finderDefaults := emailfinder.DefaultConfig()
	AppConfig = Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		ServerPort:  getEnv("SERVER_PORT", "5000"),
		FrontendURL: getEnv("FRONTEND_URL", "http://localhost:3000"),
		CORSOrigins: getEnvAsList("CORS_ORIGINS", []string{"http://localhost:3000"}),
		JWTSecret:   getEnv("JWT_SECRET", getEnv("ENCRYPTION_KEY", "")),
		Google: OAuthConfig{
			ClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
			ClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
			RedirectURI:  getEnv("GOOGLE_REDIRECT_URI", ""),
		},
		DBHost:         getEnv("DB_HOST", "localhost"),
		DBPort:         getEnv("DB_PORT", "5432"),
		DBUser:         getEnv("DB_USER", "postgres"),
		DBPassword:     getEnv("DB_PASSWORD", ""),
		DBName:         getEnv("DB_NAME", "postgres"),
		DBSSLMode:      getEnv("DB_SSL_MODE", "require"),
		DBMaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 10),
		DBMaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 50),
		AdminEmails:    getEnvAsList("ADMIN_EMAILS", nil),

		StripeSecretKey:      getEnv("STRIPE_SECRET_KEY", ""),
		StripePublishableKey: getEnv("STRIPE_PUBLISHABLE_KEY", ""),
		StripeWebhookSecret:  getEnv("STRIPE_WEBHOOK_SECRET", ""),
		MembershipPriceCents: int64(getEnvAsInt("MEMBERSHIP_PRICE_CENTS", 19900)),

		Redis: RedisConfig{
			Enabled:  getEnvAsBool("REDIS_ENABLED", false),
			Address:  getEnv("REDIS_ADDRESS", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		SMTPHost:     getEnv("SMTP_HOST", ""),
		SMTPPort:     getEnvAsInt("SMTP_PORT", 587),
		SMTPUsername: getEnv("SMTP_USERNAME", ""),
		SMTPPassword: getEnv("SMTP_PASSWORD", ""),
		FromEmail:    getEnv("FROM_EMAIL", "no-reply@scifounders.org"),
		SentryDSN:    getEnv("SENTRY_DSN", ""),
		Finder: FinderConfig{
			HeloName:          getEnv("FINDER_HELO_NAME", "mail.scifounders.org"),
			MailFrom:          getEnv("FINDER_MAIL_FROM", "probe@scifounders.org"),
			MaxProbes:         getEnvAsInt("FINDER_MAX_PROBES", finderDefaults.MaxProbes),
			MinDelay:          getEnvAsDuration("FINDER_MIN_DELAY", finderDefaults.MinDelay),
			MaxDelay:          getEnvAsDuration("FINDER_MAX_DELAY", finderDefaults.MaxDelay),
			SMTPTimeout:       getEnvAsDuration("FINDER_SMTP_TIMEOUT", 15*time.Second),
			RatePerDomain:     getEnvAsFloat("FINDER_RATE_PER_DOMAIN", finderDefaults.RatePerDomain),
			CacheTTL:          getEnvAsDuration("FINDER_CACHE_TTL", 30*24*time.Hour),
			RequestsPerMinute: getEnvAsInt("FINDER_REQUESTS_PER_MINUTE", 20),
			BulkWorkers:       getEnvAsInt("FINDER_BULK_WORKERS", 4),
		},
		BounceIMAP: IMAPConfig{
			Enabled:  getEnvAsBool("BOUNCE_IMAP_ENABLED", false),
			Host:     getEnv("BOUNCE_IMAP_HOST", ""),
			Port:     getEnvAsInt("BOUNCE_IMAP_PORT", 993),
			Username: getEnv("BOUNCE_IMAP_USERNAME", ""),
			Password: getEnv("BOUNCE_IMAP_PASSWORD", ""),
			Mailbox:  getEnv("BOUNCE_IMAP_MAILBOX", "INBOX"),
			Interval: getEnvAsDuration("BOUNCE_IMAP_INTERVAL", 10*time.Minute),
		},
	}

	if err := AppConfig.Validate(); err != nil {
		return err
	}

	logConfig()
	return nil
}

// Validate checks the settings the server cannot start without.
func (c Config) Validate() error {
	if c.DBPassword == "" {
		return fmt.Errorf("DB_PASSWORD is required")
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.Finder.MaxProbes < 1 {
		return fmt.Errorf("FINDER_MAX_PROBES must be at least 1")
	}
	if c.Finder.MaxDelay < c.Finder.MinDelay {
		return fmt.Errorf("FINDER_MAX_DELAY must not be shorter than FINDER_MIN_DELAY")
	}
	if c.Environment == "production" {
		if c.StripeWebhookSecret == "" && c.StripeSecretKey != "" {
			return fmt.Errorf("STRIPE_WEBHOOK_SECRET is required when Stripe is enabled in production")
		}
	}
	if c.BounceIMAP.Enabled && (c.BounceIMAP.Host == "" || c.BounceIMAP.Username == "") {
		return fmt.Errorf("BOUNCE_IMAP_HOST and BOUNCE_IMAP_USERNAME are required when bounce polling is enabled")
	}
	return nil
}

// IsAdminEmail reports whether email is in the bootstrap admin list.
func (c Config) IsAdminEmail(email string) bool {
	email = strings.ToLower(strings.TrimSpace(email))
	for _, admin := range c.AdminEmails {
		if strings.ToLower(admin) == email {
			return true
		}
	}
	return false
}

func ConnectDB() error {
	logrus.Info("Attempting to connect to database...")

	dsn := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		AppConfig.DBHost,
		AppConfig.DBPort,
		AppConfig.DBUser,
		AppConfig.DBPassword,
		AppConfig.DBName,
		AppConfig.DBSSLMode,
	)
	logrus.WithField("dsn", maskPassword(dsn)).Info("Using connection string")

	var err error
	DB, err = gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get DB instance: %w", err)
	}

	sqlDB.SetMaxIdleConns(AppConfig.DBMaxIdleConns)
	sqlDB.SetMaxOpenConns(AppConfig.DBMaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Hour)
	sqlDB.SetConnMaxIdleTime(30 * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	logrus.Info("Connected to the database, running migrations")
	if err := DB.AutoMigrate(models.AllModels()...); err != nil {
		return fmt.Errorf("database migration failed: %w", err)
	}
	logrus.Info("Database migration completed")
	return nil
}

// Helper functions
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	if !envLoaded && fallback == "" {
		logrus.Warnf("Environment variable %s not found and no fallback provided", key)
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	value, err := strconv.Atoi(strings.TrimSpace(valueStr))
	if err != nil {
		return fallback
	}
	return value
}

func getEnvAsFloat(key string, fallback float64) float64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(valueStr), 64)
	if err != nil {
		return fallback
	}
	return value
}

func getEnvAsBool(key string, fallback bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	value, err := strconv.ParseBool(strings.TrimSpace(valueStr))
	if err != nil {
		return fallback
	}
	return value
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	value, err := time.ParseDuration(strings.TrimSpace(valueStr))
	if err != nil {
		return fallback
	}
	return value
}

func getEnvAsList(key string, fallback []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	var values []string
	for _, v := range strings.Split(valueStr, ",") {
		if v = strings.TrimSpace(v); v != "" {
			values = append(values, v)
		}
	}
	return values
}

func maskPassword(dsn string) string {
	const passwordMarker = "password="
	startIdx := strings.Index(dsn, passwordMarker)
	if startIdx == -1 {
		return dsn
	}

	startIdx += len(passwordMarker)
	endIdx := strings.IndexAny(dsn[startIdx:], " ")
	if endIdx == -1 {
		return dsn[:startIdx] + "*****"
	}
	return dsn[:startIdx] + "*****" + dsn[startIdx+endIdx:]
}

func logConfig() {
	logrus.WithFields(logrus.Fields{
		"environment":  AppConfig.Environment,
		"server_port":  AppConfig.ServerPort,
		"database":     fmt.Sprintf("%s@%s:%s/%s", AppConfig.DBUser, AppConfig.DBHost, AppConfig.DBPort, AppConfig.DBName),
		"google_oauth": AppConfig.Google.ClientID != "",
		"redis":        AppConfig.Redis.Enabled,
		"stripe":       AppConfig.StripeSecretKey != "",
		"bounce_imap":  AppConfig.BounceIMAP.Enabled,
	}).Info("Loaded configuration")
}
