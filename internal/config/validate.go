package config

import (
	"fmt"
	"net/url"
	"strings"

	"dreamorm/internal/logging"
)

// ValidationError represents a configuration validation error with context.
type ValidationError struct {
	Field   string
	Message string
	Hint    string
}

func (e ValidationError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("%s: %s (hint: %s)", e.Field, e.Message, e.Hint)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationWarning represents a non-fatal configuration issue.
type ValidationWarning struct {
	Field   string
	Message string
	Hint    string
}

// ValidationResult contains the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationWarning
}

// HasErrors returns true if there are any validation errors.
func (r *ValidationResult) HasErrors() bool {
	return len(r.Errors) > 0
}

// Error returns a combined error message if there are validation errors.
func (r *ValidationResult) Error() string {
	if !r.HasErrors() {
		return ""
	}
	msgs := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		msgs = append(msgs, e.Error())
	}
	return strings.Join(msgs, "; ")
}

func (r *ValidationResult) addError(field, message, hint string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message, Hint: hint})
}

func (r *ValidationResult) addWarning(field, message, hint string) {
	r.Warnings = append(r.Warnings, ValidationWarning{Field: field, Message: message, Hint: hint})
}

// Validate checks the configuration and returns errors (fatal) and warnings.
func (c *Config) Validate() *ValidationResult {
	result := &ValidationResult{}
	c.Database.validate(result)
	c.Query.validate(result)
	if strings.TrimSpace(c.Schema.Path) == "" {
		result.addError("schema.path", "schema path is required", "point it at the YAML model declaration file")
	}
	c.Observability.validate(result)
	return result
}

func (d *DatabaseConfig) validate(result *ValidationResult) {
	driver := d.DriverName()
	switch driver {
	case DriverMySQL, DriverPostgres, DriverPgx, DriverSQLite:
	default:
		result.addError("database.driver", fmt.Sprintf("unsupported driver %q", d.Driver), "use mysql, postgres, pgx or sqlite")
		return
	}

	if d.ConnectionString == "" {
		if driver == DriverSQLite && d.Database == "" {
			result.addError("database.database", "sqlite needs a database file or a dsn", "use :memory: for a throwaway database")
		}
		if driver != DriverSQLite && d.Host == "" {
			result.addError("database.host", "host is required when dsn is not set", "")
		}
		if driver != DriverSQLite && d.Database == "" {
			result.addWarning("database.database", "no database name set", "the server default database will be used")
		}
	} else if _, err := d.DSN(); err != nil {
		result.addError("database.dsn", err.Error(), "")
	}

	if d.Port < 0 || d.Port > 65535 {
		result.addError("database.port", fmt.Sprintf("port %d is out of valid range (1-65535)", d.Port), "")
	}

	switch d.TLS.Mode {
	case "", "off", "skip-verify", "verify-ca", "verify-full":
	default:
		result.addError("database.tls.mode", fmt.Sprintf("invalid TLS mode %q", d.TLS.Mode), "use off, skip-verify, verify-ca or verify-full")
	}
	if d.TLS.Mode == "skip-verify" {
		result.addWarning("database.tls.mode", "skip-verify disables certificate verification", "use verify-full in production")
	}
	if (d.TLS.CertFile == "") != (d.TLS.KeyFile == "") {
		result.addError("database.tls", "cert_file and key_file must be set together", "")
	}
	if driver == DriverSQLite && d.ReplicaDSN != "" {
		result.addWarning("database.replica_dsn", "replicas are not meaningful for sqlite", "")
	}

	if d.ConnectionTimeout > 0 && d.ConnectionRetryInterval <= 0 {
		result.addError("database.connection_retry_interval", "retry interval must be positive when connection_timeout is set", "")
	}

	if d.Pool.MaxOpen < 0 || d.Pool.MaxIdle < 0 || d.Pool.MaxLifetime < 0 {
		result.addError("database.pool", "pool settings cannot be negative", "")
	}
	if d.Pool.MaxOpen > 0 && d.Pool.MaxIdle > d.Pool.MaxOpen {
		result.addWarning("database.pool.max_idle", fmt.Sprintf("max_idle (%d) exceeds max_open (%d)", d.Pool.MaxIdle, d.Pool.MaxOpen), "")
	}
}

func (q *QueryConfig) validate(result *ValidationResult) {
	if q.MaxInClause <= 0 {
		result.addError("query.max_in_clause", "must be positive", "")
	} else if q.MaxInClause > 65535 {
		result.addWarning("query.max_in_clause", fmt.Sprintf("%d keys exceed the placeholder limit of most drivers", q.MaxInClause), "1000 is a safe value")
	}
	if q.DefaultPageSize <= 0 {
		result.addError("query.default_page_size", "must be positive", "")
	}
}

func (o *ObservabilityConfig) validate(result *ValidationResult) {
	switch strings.ToLower(o.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		result.addError("observability.logging.level", fmt.Sprintf("invalid log level %q", o.Logging.Level), "use debug, info, warn or error")
	}
	switch strings.ToLower(o.Logging.Format) {
	case "json", "text":
	default:
		result.addError("observability.logging.format", fmt.Sprintf("invalid log format %q", o.Logging.Format), "use json or text")
	}
	if o.TraceSampleRatio < 0 || o.TraceSampleRatio > 1 {
		result.addError("observability.trace_sample_ratio", fmt.Sprintf("ratio %v is outside [0, 1]", o.TraceSampleRatio), "")
	}
	if o.TracingEnabled || o.Logging.ExportsEnabled {
		o.OTLP.validate("observability.otlp", result)
	}
}

func (o *OTLPConfig) validate(prefix string, result *ValidationResult) {
	switch o.Protocol {
	case "", "grpc":
	case "http", "http/protobuf":
		if !validOTLPEndpoint(o.Endpoint) {
			result.addError(prefix+".endpoint", fmt.Sprintf("invalid OTLP endpoint %q for http/protobuf", o.Endpoint), "use host:port or an http(s) URL")
		}
	default:
		result.addError(prefix+".protocol", fmt.Sprintf("invalid OTLP protocol %q", o.Protocol), "use grpc or http/protobuf")
	}
	switch o.Compression {
	case "", "none", "gzip":
	default:
		result.addError(prefix+".compression", fmt.Sprintf("invalid OTLP compression %q", o.Compression), "use none or gzip")
	}
	if o.Insecure && o.TLSCertFile != "" {
		result.addWarning(prefix+".insecure", "insecure is set, tls_cert_file is ignored", "")
	}
}

func validOTLPEndpoint(endpoint string) bool {
	if endpoint == "" {
		return false
	}
	if strings.Contains(endpoint, "://") {
		u, err := url.Parse(endpoint)
		return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
	}
	return !strings.ContainsAny(endpoint, " /")
}

// LoggerConfig converts the logging section for logging.NewLogger.
func (o *ObservabilityConfig) LoggerConfig() logging.Config {
	return logging.Config{
		Level:       o.Logging.Level,
		Format:      o.Logging.Format,
		ServiceName: o.ServiceName,
	}
}
