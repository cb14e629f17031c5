package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the API process.
// All values must come from env (or env-file loaded by the process runner).
// No business logic should depend on raw environment variables.
type Config struct {
	App        AppConfig
	DB         DBConfig
	Redis      RedisConfig
	Provider   ProviderConfig
	Escalation EscalationConfig
	SMS        SMSConfig
	SMTP       SMTPConfig
	Dispatch   DispatchConfig
}

type AppConfig struct {
	Env  string
	Port int
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// SSLMode is kept explicit for AWS-ready posture.
	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host string
	Port int
}

// ProviderConfig holds session-provider (media server) credentials.
// The API key/secret pair signs short-lived access tokens per request.
type ProviderConfig struct {
	URL       string
	APIKey    string
	APISecret string

	// SIPTrunkID identifies the outbound SIP trunk used for every leg.
	SIPTrunkID string

	// TokenTTL bounds how long a minted provider token stays valid.
	TokenTTL time.Duration

	// DriverURL is the conversational driver's callback endpoint.
	// Optional; without it driver notifications are dropped.
	DriverURL string
}

type EscalationConfig struct {
	// SupervisorNumber is the E.164 destination for supervisor legs.
	// Empty means escalation is unavailable; customer calls still work.
	SupervisorNumber string

	// HoldMax bounds how long a customer may wait on hold for a supervisor.
	HoldMax time.Duration

	// DialTimeout bounds waiting for a leg to reach connected.
	DialTimeout time.Duration

	// TranscriptWait bounds waiting for the driver transcript after a
	// merge or hangup before the record is finalized without one.
	TranscriptWait time.Duration
}

type SMSConfig struct {
	AccountSID string
	AuthToken  string
	FromNumber string

	SendTimeout time.Duration
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string

	SendTimeout time.Duration
}

type DispatchConfig struct {
	// WorkerLimit bounds concurrent contacts per bulk job.
	WorkerLimit int

	// MaxConcurrentCalls caps simultaneous provider calls across all jobs.
	// Enforced through Redis so multiple API processes share the cap.
	MaxConcurrentCalls int
}

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	{
		n, err := mustInt("DB_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.DB.Port = n
	}
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	{
		n, err := mustInt("REDIS_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}

	c.Provider.URL = strings.TrimSpace(os.Getenv("PROVIDER_URL"))
	c.Provider.APIKey = strings.TrimSpace(os.Getenv("PROVIDER_API_KEY"))
	c.Provider.APISecret = os.Getenv("PROVIDER_API_SECRET")
	c.Provider.SIPTrunkID = strings.TrimSpace(os.Getenv("PROVIDER_SIP_TRUNK_ID"))
	c.Provider.TokenTTL = mustDuration("PROVIDER_TOKEN_TTL")
	c.Provider.DriverURL = strings.TrimSpace(os.Getenv("DRIVER_CALLBACK_URL"))

	c.Escalation.SupervisorNumber = strings.TrimSpace(os.Getenv("SUPERVISOR_NUMBER"))
	c.Escalation.HoldMax = mustDuration("ESCALATION_HOLD_MAX")
	c.Escalation.DialTimeout = mustDuration("ESCALATION_DIAL_TIMEOUT")
	c.Escalation.TranscriptWait = mustDuration("ESCALATION_TRANSCRIPT_WAIT")

	c.SMS.AccountSID = strings.TrimSpace(os.Getenv("SMS_ACCOUNT_SID"))
	c.SMS.AuthToken = os.Getenv("SMS_AUTH_TOKEN")
	c.SMS.FromNumber = strings.TrimSpace(os.Getenv("SMS_FROM_NUMBER"))
	c.SMS.SendTimeout = mustDuration("SMS_SEND_TIMEOUT")

	c.SMTP.Host = strings.TrimSpace(os.Getenv("SMTP_HOST"))
	{
		v := strings.TrimSpace(os.Getenv("SMTP_PORT"))
		if v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				parseErrs = append(parseErrs, fmt.Errorf("SMTP_PORT must be an integer, got %q", v))
			}
			c.SMTP.Port = n
		}
	}
	c.SMTP.Username = strings.TrimSpace(os.Getenv("SMTP_USERNAME"))
	c.SMTP.Password = os.Getenv("SMTP_PASSWORD")
	c.SMTP.From = strings.TrimSpace(os.Getenv("SMTP_FROM"))
	c.SMTP.SendTimeout = mustDuration("SMTP_SEND_TIMEOUT")

	c.Dispatch.WorkerLimit = optionalInt("DISPATCH_WORKER_LIMIT")
	c.Dispatch.MaxConcurrentCalls = optionalInt("DISPATCH_MAX_CONCURRENT_CALLS")

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if strings.TrimSpace(c.DB.SSLMode) == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			// Local-friendly default; production must be explicit.
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

	if c.Redis.Host == "" {
		errs = append(errs, errors.New("REDIS_HOST is required"))
	}
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Provider.URL == "" && c.IsProduction() {
		// Outside production an empty URL selects the simulated provider.
		errs = append(errs, errors.New("PROVIDER_URL is required in production"))
	}
	if c.Provider.APIKey == "" {
		errs = append(errs, errors.New("PROVIDER_API_KEY is required"))
	}
	if c.Provider.APISecret == "" {
		errs = append(errs, errors.New("PROVIDER_API_SECRET is required"))
	}
	if c.Provider.SIPTrunkID == "" {
		errs = append(errs, errors.New("PROVIDER_SIP_TRUNK_ID is required"))
	}
	if c.Provider.TokenTTL <= 0 {
		c.Provider.TokenTTL = 10 * time.Minute
	}

	if c.Escalation.SupervisorNumber != "" && !strings.HasPrefix(c.Escalation.SupervisorNumber, "+") {
		errs = append(errs, fmt.Errorf("SUPERVISOR_NUMBER must be E.164, got %q", c.Escalation.SupervisorNumber))
	}
	if c.Escalation.HoldMax <= 0 {
		c.Escalation.HoldMax = 2 * time.Minute
	}
	if c.Escalation.DialTimeout <= 0 {
		c.Escalation.DialTimeout = 45 * time.Second
	}
	if c.Escalation.TranscriptWait <= 0 {
		c.Escalation.TranscriptWait = 2 * time.Minute
	}

	// SMS/SMTP transports are optional as a group: a voice-only deployment
	// omits them entirely, but a partially configured transport is an error.
	if c.SMS.AccountSID != "" || c.SMS.AuthToken != "" || c.SMS.FromNumber != "" {
		if c.SMS.AccountSID == "" || c.SMS.AuthToken == "" || c.SMS.FromNumber == "" {
			errs = append(errs, errors.New("SMS_ACCOUNT_SID, SMS_AUTH_TOKEN and SMS_FROM_NUMBER must be set together"))
		}
	}
	if c.SMS.SendTimeout <= 0 {
		c.SMS.SendTimeout = 15 * time.Second
	}

	if c.SMTP.Host != "" {
		if c.SMTP.Port <= 0 || c.SMTP.Port > 65535 {
			errs = append(errs, fmt.Errorf("SMTP_PORT must be a valid port, got %d", c.SMTP.Port))
		}
		if c.SMTP.Username == "" {
			errs = append(errs, errors.New("SMTP_USERNAME is required when SMTP_HOST is set"))
		}
		if c.SMTP.From == "" {
			c.SMTP.From = c.SMTP.Username
		}
	}
	if c.SMTP.SendTimeout <= 0 {
		c.SMTP.SendTimeout = 20 * time.Second
	}

	if c.Dispatch.WorkerLimit <= 0 {
		c.Dispatch.WorkerLimit = 4
	}
	if c.Dispatch.MaxConcurrentCalls <= 0 {
		c.Dispatch.MaxConcurrentCalls = 10
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optionalInt(key string) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

func mustDuration(key string) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}

func appendParseErr(errs []error, n int, err error) (int, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return n, errs
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
