package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"repocrawl/internal/platform/github"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

var (
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrMissingToken  = errors.New("GITHUB_TOKEN environment variable is required")
)

// Config is the full runtime configuration, read from the environment.
type Config struct {
	GitHub   GitHubConfig
	Crawl    CrawlConfig
	Database DatabaseConfig

	MetricsAddr string
	LogLevel    string `validate:"oneof=debug info warn error"`
	OutputPath  string `validate:"required"`
}

type GitHubConfig struct {
	Token             string
	APIURL            string        `validate:"required,url"`
	UserAgent         string        `validate:"required"`
	PageSize          int           `validate:"min=1,max=100"`
	MaxRetries        int           `validate:"min=0"`
	RateLimitBuffer   int           `validate:"min=0"`
	RequestsPerSecond float64       `validate:"gte=0"`
	Timeout           time.Duration `validate:"gt=0"`
}

type CrawlConfig struct {
	Target          int `validate:"gt=0"`
	BatchSize       int `validate:"gt=0"`
	CountCheckEvery int `validate:"gt=0"`
	MaxStars        int `validate:"gt=0"`
}

type DatabaseConfig struct {
	DSN string `validate:"required"`
}

var validate = validator.New()

// LoadEnvFiles reads .env and .env.local when present. Variables already set
// in the environment win.
func LoadEnvFiles() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")
}

// Load reads and validates the configuration. The GitHub token is not
// checked here because only crawling needs it; see RequireToken.
func Load() (*Config, error) {
	var errs []error
	intEnv := func(key string, def int) int {
		v, err := getEnvInt(key, def)
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}

	rps, err := getEnvFloat("REQUESTS_PER_SECOND", 2)
	if err != nil {
		errs = append(errs, err)
	}
	timeout, err := getEnvDuration("HTTP_TIMEOUT", 30*time.Second)
	if err != nil {
		errs = append(errs, err)
	}

	cfg := &Config{
		GitHub: GitHubConfig{
			Token:             os.Getenv("GITHUB_TOKEN"),
			APIURL:            NormalizeAPIURL(getEnv("GITHUB_API_URL", github.DefaultAPIURL)),
			UserAgent:         getEnv("USER_AGENT", "repocrawl/1.0"),
			PageSize:          intEnv("PAGE_SIZE", 100),
			MaxRetries:        intEnv("MAX_RETRIES", 5),
			RateLimitBuffer:   intEnv("RATE_LIMIT_BUFFER", 50),
			RequestsPerSecond: rps,
			Timeout:           timeout,
		},
		Crawl: CrawlConfig{
			Target:          intEnv("REPOS_TARGET", 100000),
			BatchSize:       intEnv("BATCH_SIZE", 1000),
			CountCheckEvery: intEnv("COUNT_CHECK_EVERY", 500),
			MaxStars:        intEnv("MAX_STARS", 1000000),
		},
		MetricsAddr: os.Getenv("METRICS_ADDR"),
		LogLevel:    strings.ToLower(getEnv("LOG_LEVEL", "info")),
		OutputPath:  getEnv("OUTPUT_PATH", "repositories.csv"),
	}
	cfg.Database.DSN, err = DatabaseDSN()
	if err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints and reports every violation at once.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), "Config.")
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", field))
		case "url":
			msgs = append(msgs, fmt.Sprintf("%s must be a valid URL", field))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of [%s]", field, fe.Param()))
		case "min", "gte":
			msgs = append(msgs, fmt.Sprintf("%s must be at least %s", field, fe.Param()))
		case "max":
			msgs = append(msgs, fmt.Sprintf("%s must be at most %s", field, fe.Param()))
		case "gt":
			msgs = append(msgs, fmt.Sprintf("%s must be greater than %s", field, fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s is invalid", field))
		}
	}
	return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
}

// RequireToken fails when no GitHub token is configured.
func (c *Config) RequireToken() error {
	if strings.TrimSpace(c.GitHub.Token) == "" {
		return ErrMissingToken
	}
	return nil
}

// NormalizeAPIURL makes sure the URL points at the GraphQL endpoint. A bare
// API root such as https://api.github.com/ answers POSTs with 404.
func NormalizeAPIURL(raw string) string {
	u := strings.TrimSpace(raw)
	if strings.HasSuffix(u, "/graphql") {
		return u
	}
	return strings.TrimRight(u, "/") + "/graphql"
}

// DatabaseDSN prefers DB_DSN and otherwise builds one from the DB_* parts.
func DatabaseDSN() (string, error) {
	if dsn := os.Getenv("DB_DSN"); dsn != "" {
		return dsn, nil
	}
	port, err := getEnvInt("DB_PORT", 5432)
	if err != nil {
		return "", err
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(getEnv("DB_USER", "postgres"), getEnv("DB_PASSWORD", "postgres")),
		Host:   net.JoinHostPort(getEnv("DB_HOST", "localhost"), strconv.Itoa(port)),
		Path:   "/" + getEnv("DB_NAME", "github_crawler"),
	}
	if mode := os.Getenv("DB_SSL_MODE"); mode != "" {
		u.RawQuery = url.Values{"sslmode": {mode}}.Encode()
	}
	return u.String(), nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(strings.ReplaceAll(v, "_", ""))
	if err != nil {
		return def, fmt.Errorf("%s: %q is not an integer", key, v)
	}
	return n, nil
}

func getEnvFloat(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def, fmt.Errorf("%s: %q is not a number", key, v)
	}
	return f, nil
}

// getEnvDuration accepts Go durations ("45s") or a bare number of seconds.
func getEnvDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def, fmt.Errorf("%s: %q is not a duration", key, v)
	}
	return d, nil
}
