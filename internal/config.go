package internal

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

type Config struct {
	Env           string              `mapstructure:"env"`
	Server        ServerConfig        `mapstructure:"http_server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Security      SecurityConfig      `mapstructure:"security" validate:"required"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Payment       PaymentConfig       `mapstructure:"payment"`
	Billing       BillingConfig       `mapstructure:"billing"`
	Fine          FineConfig          `mapstructure:"fine"`
	Waiver        WaiverConfig        `mapstructure:"waiver"`
	Report        ReportConfig        `mapstructure:"report"`
	Notification  NotificationConfig  `mapstructure:"notification"`
	Worker        WorkerConfig        `mapstructure:"worker"`
}

type ServerConfig struct {
	Port              int           `mapstructure:"port" validate:"required,min=1,max=65535"`
	BaseURL           string        `mapstructure:"base_url"`
	AllowedOrigins    string        `mapstructure:"allowed_origins"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
}

type DatabaseConfig struct {
	MaxOpenConns    int           `mapstructure:"max_open_conns" validate:"required,min=1"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" validate:"required,min=1"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" validate:"required,min=1m"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time" validate:"required,min=1m"`
	Source          string        `mapstructure:"source" validate:"required"`
}

type SecurityConfig struct {
	JWTSecret   string        `mapstructure:"jwt_secret" validate:"required,min=32"`
	JWTIssuer   string        `mapstructure:"jwt_issuer"`
	TokenLeeway time.Duration `mapstructure:"token_leeway"`
}

type PaymentConfig struct {
	Provider          string         `mapstructure:"provider" validate:"required,oneof=razorpay midtrans"`
	Currency          string         `mapstructure:"currency" validate:"required,len=3"`
	GatewayTimeout    time.Duration  `mapstructure:"gateway_timeout"`
	EnforceSequential bool           `mapstructure:"enforce_sequential"`
	Razorpay          RazorpayConfig `mapstructure:"razorpay"`
	Midtrans          MidtransConfig `mapstructure:"midtrans"`
}

type RazorpayConfig struct {
	APIURL        string `mapstructure:"api_url" validate:"omitempty,url"`
	KeyID         string `mapstructure:"key_id"`
	KeySecret     string `mapstructure:"key_secret"`
	WebhookSecret string `mapstructure:"webhook_secret"`
}

type MidtransConfig struct {
	ServerKey  string `mapstructure:"server_key"`
	ClientKey  string `mapstructure:"client_key"`
	Production bool   `mapstructure:"production"`
}

type BillingConfig struct {
	DefaultDueDay         int `mapstructure:"default_due_day" validate:"min=1,max=28"`
	GenerationConcurrency int `mapstructure:"generation_concurrency" validate:"min=1"`
}

type FineConfig struct {
	Kind       string  `mapstructure:"kind" validate:"required,oneof=percent flat daily"`
	Percent    float64 `mapstructure:"percent" validate:"min=0,max=100"`
	FlatAmount float64 `mapstructure:"flat_amount" validate:"min=0"`
	DailyRate  float64 `mapstructure:"daily_rate" validate:"min=0"`
	GraceDays  int     `mapstructure:"grace_days" validate:"min=0"`
	MaxAmount  float64 `mapstructure:"max_amount" validate:"min=0"`
}

type WaiverConfig struct {
	ApprovalPolicy string `mapstructure:"approval_policy" validate:"required,oneof=retain_base forgive"`
}

type ReportConfig struct {
	DirectoryTimeout  time.Duration `mapstructure:"directory_timeout"`
	LookupConcurrency int           `mapstructure:"lookup_concurrency" validate:"min=1"`
}

type NotificationConfig struct {
	WebhookURL string        `mapstructure:"webhook_url" validate:"omitempty,url"`
	Workers    int           `mapstructure:"workers" validate:"min=0"`
	QueueSize  int           `mapstructure:"queue_size" validate:"min=0"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

type WorkerConfig struct {
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

type ObservabilityConfig struct {
	Metrics MetricsConfig `mapstructure:"metrics"`
	Logging LoggingConfig `mapstructure:"logging"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path" validate:"required_if=Enabled true"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"required,oneof=json text pretty"`
}

// ----------------- DEFAULTS -----------------

// Defaults lists the keys every deployment may omit.
var Defaults = map[string]interface{}{
	"env":                               "development",
	"http_server.port":                  8080,
	"http_server.read_header_timeout":   5 * time.Second,
	"http_server.read_timeout":          15 * time.Second,
	"http_server.write_timeout":         15 * time.Second,
	"http_server.idle_timeout":          60 * time.Second,
	"database.max_open_conns":           10,
	"database.max_idle_conns":           5,
	"database.conn_max_lifetime":        30 * time.Minute,
	"database.conn_max_idle_time":       5 * time.Minute,
	"payment.provider":                  "razorpay",
	"payment.currency":                  "INR",
	"payment.gateway_timeout":           10 * time.Second,
	"payment.razorpay.api_url":          "https://api.razorpay.com",
	"billing.default_due_day":           10,
	"billing.generation_concurrency":    8,
	"fine.kind":                         "percent",
	"fine.percent":                      10.0,
	"waiver.approval_policy":            "retain_base",
	"report.directory_timeout":          3 * time.Second,
	"report.lookup_concurrency":         8,
	"notification.workers":              4,
	"notification.queue_size":           256,
	"notification.timeout":              5 * time.Second,
	"worker.sweep_interval":             time.Hour,
	"observability.metrics.enabled":     true,
	"observability.metrics.path":        "/metrics",
	"observability.logging.level":       "info",
	"observability.logging.format":      "text",
	"security.token_leeway":             30 * time.Second,
}

// ----------------- ENV LOADING -----------------

// LoadConfigFromEnv builds the configuration from plain environment variables,
// used for container deployments where no config file is mounted.
func LoadConfigFromEnv() *Config {
	return &Config{
		Env: getEnv("APP_ENV", "production"),
		Server: ServerConfig{
			Port:              getEnvAsInt("PORT", 8080),
			BaseURL:           getEnv("BASE_URL", ""),
			AllowedOrigins:    getEnv("ALLOWED_ORIGINS", ""),
			ReadHeaderTimeout: getEnvAsDuration("READ_HEADER_TIMEOUT", 5*time.Second),
			ReadTimeout:       getEnvAsDuration("READ_TIMEOUT", 15*time.Second),
			WriteTimeout:      getEnvAsDuration("WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:       getEnvAsDuration("IDLE_TIMEOUT", 60*time.Second),
		},
		Database: DatabaseConfig{
			Source:          getEnv("DATABASE_URL", ""),
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
			ConnMaxIdleTime: getEnvAsDuration("DB_CONN_MAX_IDLE_TIME", 5*time.Minute),
		},
		Security: SecurityConfig{
			JWTSecret:   getEnv("JWT_SECRET", ""),
			JWTIssuer:   getEnv("JWT_ISSUER", ""),
			TokenLeeway: getEnvAsDuration("JWT_LEEWAY", 30*time.Second),
		},
		Payment: PaymentConfig{
			Provider:          getEnv("PAYMENT_PROVIDER", "razorpay"),
			Currency:          getEnv("PAYMENT_CURRENCY", "INR"),
			GatewayTimeout:    getEnvAsDuration("PAYMENT_GATEWAY_TIMEOUT", 10*time.Second),
			EnforceSequential: getEnvAsBool("PAYMENT_ENFORCE_SEQUENTIAL", false),
			Razorpay: RazorpayConfig{
				APIURL:        getEnv("RAZORPAY_API_URL", "https://api.razorpay.com"),
				KeyID:         getEnv("RAZORPAY_KEY_ID", ""),
				KeySecret:     getEnv("RAZORPAY_KEY_SECRET", ""),
				WebhookSecret: getEnv("RAZORPAY_WEBHOOK_SECRET", ""),
			},
			Midtrans: MidtransConfig{
				ServerKey:  getEnv("MIDTRANS_SERVER_KEY", ""),
				ClientKey:  getEnv("MIDTRANS_CLIENT_KEY", ""),
				Production: getEnvAsBool("MIDTRANS_PRODUCTION", false),
			},
		},
		Billing: BillingConfig{
			DefaultDueDay:         getEnvAsInt("BILLING_DEFAULT_DUE_DAY", 10),
			GenerationConcurrency: getEnvAsInt("BILLING_GENERATION_CONCURRENCY", 8),
		},
		Fine: FineConfig{
			Kind:       getEnv("FINE_KIND", "percent"),
			Percent:    getEnvAsFloat("FINE_PERCENT", 10),
			FlatAmount: getEnvAsFloat("FINE_FLAT_AMOUNT", 0),
			DailyRate:  getEnvAsFloat("FINE_DAILY_RATE", 0),
			GraceDays:  getEnvAsInt("FINE_GRACE_DAYS", 0),
			MaxAmount:  getEnvAsFloat("FINE_MAX_AMOUNT", 0),
		},
		Waiver: WaiverConfig{
			ApprovalPolicy: getEnv("WAIVER_APPROVAL_POLICY", "retain_base"),
		},
		Report: ReportConfig{
			DirectoryTimeout:  getEnvAsDuration("REPORT_DIRECTORY_TIMEOUT", 3*time.Second),
			LookupConcurrency: getEnvAsInt("REPORT_LOOKUP_CONCURRENCY", 8),
		},
		Notification: NotificationConfig{
			WebhookURL: getEnv("NOTIFICATION_WEBHOOK_URL", ""),
			Workers:    getEnvAsInt("NOTIFICATION_WORKERS", 4),
			QueueSize:  getEnvAsInt("NOTIFICATION_QUEUE_SIZE", 256),
			Timeout:    getEnvAsDuration("NOTIFICATION_TIMEOUT", 5*time.Second),
		},
		Worker: WorkerConfig{
			SweepInterval: getEnvAsDuration("FINE_SWEEP_INTERVAL", time.Hour),
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				Enabled: getEnvAsBool("METRICS_ENABLED", true),
				Path:    getEnv("METRICS_PATH", "/metrics"),
			},
			Logging: LoggingConfig{
				Level:  getEnv("LOG_LEVEL", "info"),
				Format: getEnv("LOG_FORMAT", "json"),
			},
		},
	}
}

// ----------------- HELPERS -----------------

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsFloat(key string, defaultVal float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultVal
}

// ----------------- VALIDATION -----------------

var structValidator = validator.New(validator.WithRequiredStructEnabled())

func (c *Config) Validate() error {
	var errs []string

	if err := structValidator.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			for _, fe := range fieldErrs {
				errs = append(errs, fmt.Sprintf("%s failed on %q", fe.Namespace(), fe.Tag()))
			}
		} else {
			errs = append(errs, err.Error())
		}
	}

	if err := c.Server.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("server config: %v", err))
	}

	if err := c.Database.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("database config: %v", err))
	}

	if err := c.Payment.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("payment config: %v", err))
	}

	if err := c.Fine.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("fine config: %v", err))
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}

	return nil
}

func (c *ServerConfig) Validate() error {
	if c.AllowedOrigins != "" {
		for _, origin := range c.Origins() {
			if origin == "*" {
				continue
			}
			if _, err := url.Parse(origin); err != nil {
				return fmt.Errorf("invalid allowed origin %s: %w", origin, err)
			}
		}
	}
	if c.ReadTimeout < c.ReadHeaderTimeout {
		return errors.New("read_timeout must be >= read_header_timeout")
	}
	return nil
}

// Origins splits AllowedOrigins into trimmed entries.
func (c *ServerConfig) Origins() []string {
	if c.AllowedOrigins == "" {
		return nil
	}
	var out []string
	for _, origin := range strings.Split(c.AllowedOrigins, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			out = append(out, origin)
		}
	}
	return out
}

func (c *DatabaseConfig) Validate() error {
	if c.MaxIdleConns > c.MaxOpenConns {
		return errors.New("max_idle_conns cannot be greater than max_open_conns")
	}
	return nil
}

func (c *DatabaseConfig) GetDSN() string {
	return c.Source
}

func (c *PaymentConfig) Validate() error {
	switch c.Provider {
	case "razorpay":
		if c.Razorpay.KeyID == "" || c.Razorpay.KeySecret == "" {
			return errors.New("razorpay key_id and key_secret are required")
		}
	case "midtrans":
		if c.Midtrans.ServerKey == "" {
			return errors.New("midtrans server_key is required")
		}
	}
	return nil
}

func (c *FineConfig) Validate() error {
	switch c.Kind {
	case "flat":
		if c.FlatAmount <= 0 {
			return errors.New("flat_amount must be positive for the flat fine kind")
		}
	case "daily":
		if c.DailyRate <= 0 {
			return errors.New("daily_rate must be positive for the daily fine kind")
		}
	}
	return nil
}
