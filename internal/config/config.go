// Package config loads runtime configuration from the environment and the
// optional testing-center YAML file. Load fails on anything the pipeline
// cannot run without, so the process never starts half-configured.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // centers may run on hosts without a zoneinfo database

	"gopkg.in/yaml.v3"

	"colorcodely-go/internal/email"
	"colorcodely-go/internal/notify"
	"colorcodely-go/internal/store"
	"colorcodely-go/internal/telephony"
	"colorcodely-go/internal/transcription"
	"colorcodely-go/internal/types"
)

// defaults
const (
	defaultPort        = "8080"
	defaultTZ          = "America/Chicago"
	defaultLogName     = "DailyTranscriptions"
	defaultCenterID    = "default"
	defaultStoreDriver = "xlsx"
	defaultWorkbook    = "colorcodely.xlsx"
	defaultSQLiteDir   = "./data"
)

const (
	StoreXLSX   = "xlsx"
	StoreSQLite = "sqlite"
)

type Config struct {
	Port          string
	PublicBaseURL string
	TZName        string
	Centers       []types.TestingCenter

	StoreDriver     string
	WorkbookPath    string
	SubscriberSheet string
	SQLiteDir       string

	Twilio             telephony.Config
	ValidateSignatures bool

	Transcription     transcription.Config
	UseMockTranscribe bool
	MockTranscript    string

	SMTP          email.Config
	OperatorEmail string
	Notify        notify.Config

	FuzzyColors bool
	StopPhrase  string
}

// Center returns the configured center with the given id.
func (c *Config) Center(id string) (types.TestingCenter, bool) {
	for _, tc := range c.Centers {
		if strings.EqualFold(tc.ID, id) {
			return tc, true
		}
	}
	return types.TestingCenter{}, false
}

// Load reads the environment. The caller loads .env first.
func Load() (*Config, error) {
	cfg := &Config{
		Port:          envOr("PORT", defaultPort),
		PublicBaseURL: strings.TrimRight(os.Getenv("PUBLIC_BASE_URL"), "/"),
		TZName:        envOr("TZ_NAME", defaultTZ),

		StoreDriver:     strings.ToLower(envOr("STORE_DRIVER", defaultStoreDriver)),
		WorkbookPath:    envOr("WORKBOOK_PATH", defaultWorkbook),
		SubscriberSheet: os.Getenv("SUBSCRIBER_SHEET"),
		SQLiteDir:       envOr("SQLITE_DIR", defaultSQLiteDir),

		ValidateSignatures: envBool("TWILIO_VALIDATE_SIGNATURES", false),
		UseMockTranscribe:  envBool("USE_MOCK_TRANSCRIBE", false),
		MockTranscript:     os.Getenv("MOCK_TRANSCRIPT"),
		OperatorEmail:      strings.TrimSpace(os.Getenv("OPERATOR_EMAIL")),
		FuzzyColors:        envBool("FUZZY_COLORS", false),
		StopPhrase:         envOr("STOP_PHRASE", transcription.DefaultStopPhrase),
	}

	cfg.Twilio = telephony.Config{
		AccountSID:    strings.TrimSpace(os.Getenv("TWILIO_ACCOUNT_SID")),
		AuthToken:     strings.TrimSpace(os.Getenv("TWILIO_AUTH_TOKEN")),
		FromNumber:    strings.TrimSpace(os.Getenv("TWILIO_FROM_NUMBER")),
		APIBase:       os.Getenv("TWILIO_API_BASE"),
		PublicBaseURL: cfg.PublicBaseURL,
		CallTimeout:   envSeconds("CALL_TIMEOUT_SECONDS", 55),
		TimeLimit:     envSeconds("CALL_TIME_LIMIT_SECONDS", 180),
		Listen:        envSeconds("LISTEN_SECONDS", 150),
	}
	cfg.Transcription = transcription.Config{
		BaseURL: os.Getenv("TRANSCRIBE_URL"),
		APIKey:  strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
		Model:   envOr("OPENAI_TRANSCRIBE_MODEL", "whisper-1"),
		Timeout: envSeconds("TRANSCRIBE_TIMEOUT_SECONDS", 90),
	}
	cfg.SMTP = email.Config{
		Host:     os.Getenv("SMTP_HOST"),
		Port:     envOr("SMTP_PORT", "587"),
		From:     os.Getenv("SMTP_FROM"),
		Username: os.Getenv("SMTP_USERNAME"),
		Password: os.Getenv("SMTP_PASSWORD"),
		TLS:      envOr("SMTP_TLS", "starttls"),
	}
	cfg.Notify = notify.Config{
		Mode:            notify.Mode(strings.ToLower(envOr("EMAIL_MODE", string(notify.ModeBCC)))),
		OperatorAddress: cfg.OperatorEmail,
		SMSEnabled:      envBool("SMS_ENABLED", false),
		SMSPerSecond:    envFloat("SMS_PER_SECOND", 1),
		Region:          envOr("SMS_REGION", notify.DefaultRegion),
	}

	centers, err := loadCenters(cfg.TZName)
	if err != nil {
		return nil, err
	}
	cfg.Centers = centers

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func loadCenters(tz string) ([]types.TestingCenter, error) {
	var centers []types.TestingCenter
	if path := os.Getenv("CENTERS_FILE"); path != "" {
		cs, err := LoadCenters(path)
		if err != nil {
			return nil, err
		}
		centers = cs
	} else {
		centers = []types.TestingCenter{{
			ID:            envOr("CENTER_ID", defaultCenterID),
			Name:          os.Getenv("CENTER_NAME"),
			DialNumber:    strings.TrimSpace(os.Getenv("COLOR_LINE_NUMBER")),
			AnnouncePhone: os.Getenv("ANNOUNCEMENT_PHONE"),
			LogName:       envOr("LOG_NAME", defaultLogName),
		}}
	}
	for i := range centers {
		if centers[i].Timezone == "" {
			centers[i].Timezone = tz
		}
		if centers[i].Name == "" {
			centers[i].Name = centers[i].ID
		}
	}
	return centers, nil
}

type centersFile struct {
	Centers []types.TestingCenter `yaml:"centers"`
}

// LoadCenters reads testing centers from a YAML file.
func LoadCenters(path string) ([]types.TestingCenter, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read centers file: %w", err)
	}
	var f centersFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse centers file %s: %w", path, err)
	}
	if len(f.Centers) == 0 {
		return nil, fmt.Errorf("centers file %s lists no centers", path)
	}
	return f.Centers, nil
}

// validate checks required fields and resolves center timezones.
func (c *Config) validate() error {
	var errs []error
	missing := func(name, v string) {
		if strings.TrimSpace(v) == "" {
			errs = append(errs, fmt.Errorf("%s is required", name))
		}
	}

	seen := make(map[string]bool)
	for i := range c.Centers {
		tc := &c.Centers[i]
		label := fmt.Sprintf("center %q", tc.ID)
		missing("center id", tc.ID)
		missing(label+" dial number", tc.DialNumber)
		missing(label+" log name", tc.LogName)
		key := strings.ToLower(tc.ID)
		if seen[key] {
			errs = append(errs, fmt.Errorf("%s is configured twice", label))
		}
		seen[key] = true
		loc, err := time.LoadLocation(tc.Timezone)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s timezone %q: %w", label, tc.Timezone, err))
			continue
		}
		tc.Location = loc
	}

	missing("PUBLIC_BASE_URL", c.PublicBaseURL)
	missing("TWILIO_ACCOUNT_SID", c.Twilio.AccountSID)
	missing("TWILIO_AUTH_TOKEN", c.Twilio.AuthToken)
	missing("TWILIO_FROM_NUMBER", c.Twilio.FromNumber)
	missing("SMTP_HOST", c.SMTP.Host)
	missing("SMTP_FROM", c.SMTP.From)
	missing("OPERATOR_EMAIL", c.OperatorEmail)
	if !c.UseMockTranscribe {
		missing("OPENAI_API_KEY", c.Transcription.APIKey)
	}

	switch c.StoreDriver {
	case StoreXLSX:
		missing("WORKBOOK_PATH", c.WorkbookPath)
		// each log name becomes a sheet; catch names excel rejects before the first run
		for _, tc := range c.Centers {
			if tc.LogName == "" {
				continue
			}
			if err := store.ValidSheetName(tc.LogName); err != nil {
				errs = append(errs, fmt.Errorf("center %q log name: %w", tc.ID, err))
			}
		}
		if c.SubscriberSheet != "" {
			if err := store.ValidSheetName(c.SubscriberSheet); err != nil {
				errs = append(errs, fmt.Errorf("SUBSCRIBER_SHEET: %w", err))
			}
		}
	case StoreSQLite:
		missing("SQLITE_DIR", c.SQLiteDir)
	default:
		errs = append(errs, fmt.Errorf("STORE_DRIVER must be %s or %s, got %q", StoreXLSX, StoreSQLite, c.StoreDriver))
	}
	switch c.Notify.Mode {
	case notify.ModeBCC, notify.ModeIndividual:
	default:
		errs = append(errs, fmt.Errorf("EMAIL_MODE must be bcc or individual, got %q", c.Notify.Mode))
	}
	return errors.Join(errs...)
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envBool(k string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(k))) {
	case "1", "true", "yes", "y":
		return true
	case "0", "false", "no", "n":
		return false
	default:
		return def
	}
}

func envFloat(k string, def float64) float64 {
	if v, err := strconv.ParseFloat(os.Getenv(k), 64); err == nil && v > 0 {
		return v
	}
	return def
}

func envSeconds(k string, def int) time.Duration {
	if v, err := strconv.Atoi(os.Getenv(k)); err == nil && v > 0 {
		return time.Duration(v) * time.Second
	}
	return time.Duration(def) * time.Second
}
