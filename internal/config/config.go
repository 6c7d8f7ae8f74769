// Package config loads runtime settings from the environment, an optional
// .env file and an optional config.yaml.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/GiraffeSchool/student-signin-system/internal/geo"
	"github.com/GiraffeSchool/student-signin-system/internal/ledger"
)

// Lock backends.
const (
	LockMemory = "memory"
	LockRedis  = "redis"
)

// DefaultTables are the school's three roster spreadsheets, in search order.
const DefaultTables = "國中=1SOTkqaIN3g4Spk0Cri4F1mEzdiD1xvLzR5x5KLmhrmY," +
	"先修=14k7fkfiPdhrSnYPXLJ7--8s_Qk3wehI0AZDpgFw83AM," +
	"兒美=1c7zuwUaz-gzY0hbDDO2coixOcQLGhbZbdUXZ9X63Wfo"

// Cloudinary holds the optional QR upload target.
type Cloudinary struct {
	CloudName string
	APIKey    string
	APISecret string
	Folder    string
}

// Enabled reports whether uploads can be made.
func (c Cloudinary) Enabled() bool {
	return c.CloudName != "" && c.APIKey != "" && c.APISecret != ""
}

// App holds the runtime configuration.
type App struct {
	Env       string
	Port      string
	QRBaseURL string

	LineAccessToken   string
	LineChannelSecret string
	LineAPIBaseURL    string

	GoogleServiceAccount      string
	GoogleCredentialsFile     string
	GoogleCredentialsSecretID string

	Tables           []ledger.TableRef
	School           geo.Point
	AllowedRadiusKm  float64
	Layout           ledger.Layout
	GuardianIDPrefix string
	Location         *time.Location

	LedgerTimeout          time.Duration
	NotifyTimeout          time.Duration
	MessagingHealthTimeout time.Duration
	LedgerStrictUnique     bool

	LockBackend string
	RedisAddr   string
	LockTTL     time.Duration

	RateLimitPerMin int
	LogLevel        string
	RollbarToken    string

	QROutputDir string
	Cloudinary  Cloudinary
}

// Production reports whether the app runs in production mode.
func (a App) Production() bool {
	return a.Env == "production" || a.Env == "prod"
}

// Fence is the school geo-fence.
func (a App) Fence() geo.Fence {
	return geo.Fence{Center: a.School, RadiusKm: a.AllowedRadiusKm}
}

// MinLockTTL is the longest a sign-in can hold its lock: one read per roster
// plus the write, each bounded by LedgerTimeout. A shared lock must outlive it.
func (a App) MinLockTTL() time.Duration {
	return time.Duration(len(a.Tables)+1) * a.LedgerTimeout
}

// Missing lists the settings the sign-in flow needs but does not have.
func (a App) Missing() []string {
	var out []string
	if a.LineAccessToken == "" {
		out = append(out, "LINE_CHANNEL_ACCESS_TOKEN")
	}
	if a.LineChannelSecret == "" {
		out = append(out, "LINE_CHANNEL_SECRET")
	}
	if a.GoogleServiceAccount == "" && a.GoogleCredentialsSecretID == "" {
		if _, err := os.Stat(a.GoogleCredentialsFile); err != nil {
			out = append(out, "GOOGLE_SERVICE_ACCOUNT")
		}
	}
	return out
}

func setDefaults(v *viper.Viper) {
	layout := ledger.DefaultLayout()
	v.SetDefault("APP_ENV", "dev")
	v.SetDefault("PORT", "3000")
	v.SetDefault("QR_BASE_URL", "http://localhost:3000/sign?token=")
	v.SetDefault("LINE_API_BASE_URL", "https://api.line.me")
	v.SetDefault("GOOGLE_CREDENTIALS_FILE", "credentials.json")
	v.SetDefault("SHEET_IDS", DefaultTables)
	v.SetDefault("SCHOOL_LAT", 22.583300782581)
	v.SetDefault("SCHOOL_LNG", 120.35373872070156)
	v.SetDefault("ALLOWED_RADIUS_KM", 0.1)
	v.SetDefault("PRESENT_TAG", layout.PresentTag)
	v.SetDefault("GUARDIAN_COLUMN_MARKER", layout.GuardianMarker)
	v.SetDefault("GUARDIAN_ID_PREFIX", "U")
	v.SetDefault("ID_COLUMN", layout.IDColumn)
	v.SetDefault("NAME_COLUMN", layout.NameColumn)
	v.SetDefault("CLASS_COLUMN", layout.ClassColumn)
	v.SetDefault("TIMEZONE", "Asia/Taipei")
	v.SetDefault("LEDGER_TIMEOUT", 10*time.Second)
	v.SetDefault("NOTIFY_TIMEOUT", 10*time.Second)
	v.SetDefault("MESSAGING_HEALTH_TIMEOUT", 5*time.Second)
	v.SetDefault("LEDGER_STRICT_UNIQUE", false)
	v.SetDefault("LOCK_BACKEND", LockMemory)
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("LOCK_TTL", time.Duration(0))
	v.SetDefault("RATE_LIMIT_PER_MIN", 120)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("QR_OUTPUT_DIR", "qrcodes")
	v.SetDefault("CLOUDINARY_FOLDER", "signin-qrcodes")

	// Keys without a default still need registering for AutomaticEnv to
	// pick them up through Get.
	for _, k := range []string{
		"LINE_CHANNEL_ACCESS_TOKEN", "LINE_CHANNEL_SECRET",
		"GOOGLE_SERVICE_ACCOUNT", "GOOGLE_CREDENTIALS_SECRET_ID",
		"ROLLBAR_TOKEN", "CLOUDINARY_CLOUD_NAME", "CLOUDINARY_API_KEY", "CLOUDINARY_API_SECRET",
	} {
		v.SetDefault(k, "")
	}
}

// Load reads .env (if present), config.yaml (if present) and the
// environment, then validates the result.
func Load() (App, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return App{}, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return App{}, fmt.Errorf("read config.yaml: %w", err)
		}
	}
	return FromViper(v)
}

// FromViper builds the configuration from v, adding defaults and
// environment lookups.
func FromViper(v *viper.Viper) (App, error) {
	setDefaults(v)
	v.AutomaticEnv()

	a := App{
		Env:                       v.GetString("APP_ENV"),
		Port:                      v.GetString("PORT"),
		QRBaseURL:                 v.GetString("QR_BASE_URL"),
		LineAccessToken:           v.GetString("LINE_CHANNEL_ACCESS_TOKEN"),
		LineChannelSecret:         v.GetString("LINE_CHANNEL_SECRET"),
		LineAPIBaseURL:            v.GetString("LINE_API_BASE_URL"),
		GoogleServiceAccount:      v.GetString("GOOGLE_SERVICE_ACCOUNT"),
		GoogleCredentialsFile:     v.GetString("GOOGLE_CREDENTIALS_FILE"),
		GoogleCredentialsSecretID: v.GetString("GOOGLE_CREDENTIALS_SECRET_ID"),
		School:                    geo.Point{Lat: v.GetFloat64("SCHOOL_LAT"), Lng: v.GetFloat64("SCHOOL_LNG")},
		AllowedRadiusKm:           v.GetFloat64("ALLOWED_RADIUS_KM"),
		GuardianIDPrefix:          v.GetString("GUARDIAN_ID_PREFIX"),
		LedgerTimeout:             v.GetDuration("LEDGER_TIMEOUT"),
		NotifyTimeout:             v.GetDuration("NOTIFY_TIMEOUT"),
		MessagingHealthTimeout:    v.GetDuration("MESSAGING_HEALTH_TIMEOUT"),
		LedgerStrictUnique:        v.GetBool("LEDGER_STRICT_UNIQUE"),
		LockBackend:               strings.ToLower(v.GetString("LOCK_BACKEND")),
		RedisAddr:                 v.GetString("REDIS_ADDR"),
		LockTTL:                   v.GetDuration("LOCK_TTL"),
		RateLimitPerMin:           v.GetInt("RATE_LIMIT_PER_MIN"),
		LogLevel:                  v.GetString("LOG_LEVEL"),
		RollbarToken:              v.GetString("ROLLBAR_TOKEN"),
		QROutputDir:               v.GetString("QR_OUTPUT_DIR"),
		Cloudinary: Cloudinary{
			CloudName: v.GetString("CLOUDINARY_CLOUD_NAME"),
			APIKey:    v.GetString("CLOUDINARY_API_KEY"),
			APISecret: v.GetString("CLOUDINARY_API_SECRET"),
			Folder:    v.GetString("CLOUDINARY_FOLDER"),
		},
	}

	a.Layout = ledger.DefaultLayout()
	a.Layout.IDColumn = v.GetString("ID_COLUMN")
	a.Layout.NameColumn = v.GetString("NAME_COLUMN")
	a.Layout.ClassColumn = v.GetString("CLASS_COLUMN")
	a.Layout.GuardianMarker = v.GetString("GUARDIAN_COLUMN_MARKER")
	a.Layout.PresentTag = v.GetString("PRESENT_TAG")

	var errs []error
	tables, err := ParseTables(v.GetString("SHEET_IDS"))
	if err != nil {
		errs = append(errs, err)
	}
	a.Tables = tables

	loc, err := time.LoadLocation(v.GetString("TIMEZONE"))
	if err != nil {
		errs = append(errs, fmt.Errorf("TIMEZONE: %w", err))
	}
	a.Location = loc

	if !a.School.Valid() {
		errs = append(errs, fmt.Errorf("SCHOOL_LAT/SCHOOL_LNG: %v,%v is not a valid coordinate", a.School.Lat, a.School.Lng))
	}
	if a.AllowedRadiusKm <= 0 {
		errs = append(errs, errors.New("ALLOWED_RADIUS_KM must be positive"))
	}
	if a.Layout.IDColumn == "" || a.Layout.PresentTag == "" {
		errs = append(errs, errors.New("ID_COLUMN and PRESENT_TAG must not be empty"))
	}
	if a.LockTTL <= 0 {
		a.LockTTL = a.MinLockTTL() + 5*time.Second
	}
	switch a.LockBackend {
	case LockMemory:
	case LockRedis:
		if a.RedisAddr == "" {
			errs = append(errs, errors.New("REDIS_ADDR is required when LOCK_BACKEND=redis"))
		}
		if a.LockTTL <= a.MinLockTTL() {
			errs = append(errs, fmt.Errorf("LOCK_TTL %s must exceed %s, the longest a sign-in holds the lock", a.LockTTL, a.MinLockTTL()))
		}
	default:
		errs = append(errs, fmt.Errorf("LOCK_BACKEND: unknown backend %q", a.LockBackend))
	}
	if err := errors.Join(errs...); err != nil {
		return App{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return a, nil
}

// ParseTables parses "name=id,name=id". Order is preserved; it is the
// search order for sign-ins.
func ParseTables(s string) ([]ledger.TableRef, error) {
	var out []ledger.TableRef
	seen := map[string]bool{}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, id, ok := strings.Cut(part, "=")
		name, id = strings.TrimSpace(name), strings.TrimSpace(id)
		if !ok || name == "" || id == "" {
			return nil, fmt.Errorf("SHEET_IDS: entry %q is not name=id", part)
		}
		if seen[name] {
			return nil, fmt.Errorf("SHEET_IDS: duplicate table name %q", name)
		}
		seen[name] = true
		out = append(out, ledger.TableRef{ID: id, Name: name})
	}
	if len(out) == 0 {
		return nil, errors.New("SHEET_IDS: no tables configured")
	}
	return out, nil
}
