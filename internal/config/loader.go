package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// Lookup reads one variable. os.LookupEnv satisfies it.
type Lookup func(key string) (string, bool)

// Load reads configuration from the environment, applies defaults and
// validates the result.
func Load() (*Config, error) {
	return LoadFrom(os.LookupEnv)
}

// LoadFrom reads configuration through lookup. Every missing or malformed
// variable is reported, not only the first.
//
// Fields are bound with struct tags: env names the variable, envAlt a
// fallback name, default the value used when neither is set, and
// required="true" rejects an unset field.
func LoadFrom(lookup Lookup) (*Config, error) {
	cfg := &Config{}
	l := &loader{lookup: lookup}
	l.walk(reflect.ValueOf(cfg).Elem())
	if len(l.errs) > 0 {
		return nil, fmt.Errorf("config load:\n  - %s", strings.Join(l.errs, "\n  - "))
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

type loader struct {
	lookup Lookup
	errs   []string
}

// walk fills the tagged fields of v, descending into section structs.
func (l *loader) walk(v reflect.Value) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field, fv := t.Field(i), v.Field(i)
		if !fv.CanSet() {
			continue
		}
		if field.Type.Kind() == reflect.Struct {
			l.walk(fv)
			continue
		}

		name := field.Tag.Get("env")
		if name == "" {
			continue
		}
		raw, ok := l.value(name, field.Tag.Get("envAlt"))
		if !ok {
			if field.Tag.Get("required") == "true" {
				l.errs = append(l.errs, fmt.Sprintf("%s is required", name))
				continue
			}
			raw = field.Tag.Get("default")
		}
		if raw == "" {
			continue
		}
		if err := parseInto(fv, raw); err != nil {
			l.errs = append(l.errs, fmt.Sprintf("%s=%q: %v", name, raw, err))
		}
	}
}

// value returns the first non-empty variable among names.
func (l *loader) value(names ...string) (string, bool) {
	for _, n := range names {
		if n == "" {
			continue
		}
		if v, ok := l.lookup(n); ok && v != "" {
			return v, true
		}
	}
	return "", false
}

var durationType = reflect.TypeOf(time.Duration(0))

func parseInto(fv reflect.Value, raw string) error {
	switch kind := fv.Kind(); {
	case fv.Type() == durationType:
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("invalid duration: %w", err)
		}
		fv.SetInt(int64(d))
	case kind == reflect.String:
		fv.SetString(raw)
	case kind >= reflect.Int && kind <= reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, fv.Type().Bits())
		if err != nil {
			return fmt.Errorf("invalid integer: %w", err)
		}
		fv.SetInt(n)
	case kind == reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("invalid boolean: %w", err)
		}
		fv.SetBool(b)
	case kind == reflect.Slice && fv.Type().Elem().Kind() == reflect.String:
		fv.Set(reflect.ValueOf(splitList(raw)))
	default:
		return fmt.Errorf("unsupported field type %s", fv.Type())
	}
	return nil
}

// splitList splits a comma-separated list, dropping empty items.
func splitList(raw string) []string {
	var items []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

// Validate checks that the configuration is valid.
// Returns an error describing all validation failures.
func (c *Config) Validate() error {
	var errs []string

	if c.Database.URL == "" {
		errs = append(errs, "DATABASE_URL is required")
	}
	if c.Database.MaxConns <= 0 {
		errs = append(errs, "DB_MAX_CONNS must be positive")
	}
	if c.Database.MinConns < 0 {
		errs = append(errs, "DB_MIN_CONNS must be non-negative")
	}
	if c.Database.MaxConns < c.Database.MinConns {
		errs = append(errs, fmt.Sprintf("DB_MAX_CONNS (%d) must be >= DB_MIN_CONNS (%d)",
			c.Database.MaxConns, c.Database.MinConns))
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT (%d) must be 1-65535", c.Server.Port))
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, "SERVER_SHUTDOWN_TIMEOUT must be positive")
	}

	if c.Redis.Enabled() && c.Redis.Concurrency <= 0 {
		errs = append(errs, "WORKER_CONCURRENCY must be positive")
	}

	if c.Import.BatchSize <= 0 {
		errs = append(errs, "IMPORT_BATCH_SIZE must be positive")
	}
	if c.Import.MaxFileSize <= 0 {
		errs = append(errs, "IMPORT_MAX_FILE_SIZE must be positive")
	}
	if c.Import.MaxConcurrent <= 0 {
		errs = append(errs, "IMPORT_MAX_CONCURRENT must be positive")
	}
	if c.Import.MaxWaitTime <= 0 {
		errs = append(errs, "IMPORT_MAX_WAIT_TIME must be positive")
	}
	if c.Import.UploadDir == "" {
		errs = append(errs, "IMPORT_UPLOAD_DIR is required")
	}

	if c.ICal.FetchTimeout <= 0 {
		errs = append(errs, "ICAL_FETCH_TIMEOUT must be positive")
	}
	if c.ICal.RetryMax < 0 {
		errs = append(errs, "ICAL_RETRY_MAX must be non-negative")
	}
	if c.ICal.SyncInterval < 0 {
		errs = append(errs, "ICAL_SYNC_INTERVAL must be non-negative")
	}

	if c.Security.RequireAPIKey && len(c.Security.APIKeys) == 0 {
		errs = append(errs, "REQUIRE_API_KEY is true but API_KEYS is empty; configure at least one API key or disable auth")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, fmt.Sprintf("LOG_LEVEL (%q) must be one of: debug, info, warn, error", c.Logging.Level))
	}
	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		errs = append(errs, fmt.Sprintf("LOG_FORMAT (%q) must be one of: text, json", c.Logging.Format))
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		errs = append(errs, fmt.Sprintf("METRICS_PATH (%q) must start with /", c.Metrics.Path))
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// String returns a loggable representation with secrets masked.
func (c *Config) String() string {
	var b strings.Builder
	b.WriteString("Config{")
	fmt.Fprintf(&b, "Server: {Addr: %q}, ", c.Server.Addr())
	fmt.Fprintf(&b, "Database: {URL: [MASKED], MaxConns: %d}, ", c.Database.MaxConns)
	fmt.Fprintf(&b, "Redis: {Addr: %q, Password: %s}, ", c.Redis.Addr, mask(c.Redis.Password))
	fmt.Fprintf(&b, "Import: {BatchSize: %d, Strict: %v}, ", c.Import.BatchSize, c.Import.Strict)
	fmt.Fprintf(&b, "Geocoder: {APIKey: %s}, ", mask(c.Geocoder.APIKey))
	fmt.Fprintf(&b, "Logging: {Level: %q, Format: %q}", c.Logging.Level, c.Logging.Format)
	b.WriteString("}")
	return b.String()
}

func mask(secret string) string {
	if secret == "" {
		return "[UNSET]"
	}
	return "[MASKED]"
}
