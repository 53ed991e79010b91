package config

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
)

// tlsConfigName is the name used to register custom TLS configs with the MySQL driver.
const tlsConfigName = "dreamorm-custom"

// DriverName returns the database/sql driver name for the configured driver.
func (d *DatabaseConfig) DriverName() string {
	return strings.ToLower(strings.TrimSpace(d.Driver))
}

// DSN returns the data source name for the primary connection. A configured
// DSN is used as is, apart from the MySQL options dreamorm relies on.
func (d *DatabaseConfig) DSN() (string, error) {
	switch d.DriverName() {
	case DriverMySQL:
		return d.mysqlDSN(d.ConnectionString)
	case DriverPostgres, DriverPgx:
		if d.ConnectionString != "" {
			return d.ConnectionString, nil
		}
		return d.postgresDSN(), nil
	case DriverSQLite:
		if d.ConnectionString != "" {
			return d.ConnectionString, nil
		}
		return d.Database, nil
	default:
		return "", fmt.Errorf("unsupported database driver %q", d.Driver)
	}
}

// ReplicaDSNFor returns the replica DSN, or "" when no replica is configured.
func (d *DatabaseConfig) ReplicaDSNFor() (string, error) {
	if strings.TrimSpace(d.ReplicaDSN) == "" {
		return "", nil
	}
	if d.DriverName() == DriverMySQL {
		return d.mysqlDSN(d.ReplicaDSN)
	}
	return d.ReplicaDSN, nil
}

func (d *DatabaseConfig) mysqlDSN(connectionString string) (string, error) {
	var cfg *mysql.Config
	if connectionString != "" {
		parsed, err := mysql.ParseDSN(connectionString)
		if err != nil {
			return "", fmt.Errorf("database.dsn is invalid: %w", err)
		}
		cfg = parsed
	} else {
		cfg = mysql.NewConfig()
		cfg.User = d.User
		cfg.Passwd = d.Password
		cfg.Net = "tcp"
		port := d.Port
		if port == 0 {
			port = 3306
		}
		cfg.Addr = net.JoinHostPort(d.Host, strconv.Itoa(port))
		cfg.DBName = d.Database
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	if param := d.mysqlTLSParam(); param != "" && cfg.TLSConfig == "" {
		cfg.TLSConfig = param
	}
	return cfg.FormatDSN(), nil
}

func (d *DatabaseConfig) postgresDSN() string {
	port := d.Port
	if port == 0 {
		port = 5432
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(d.Host, strconv.Itoa(port)),
		Path:   "/" + d.Database,
	}
	if d.User != "" {
		if d.Password != "" {
			u.User = url.UserPassword(d.User, d.Password)
		} else {
			u.User = url.User(d.User)
		}
	}
	q := url.Values{}
	q.Set("sslmode", d.postgresSSLMode())
	if d.TLS.CAFile != "" {
		q.Set("sslrootcert", d.TLS.CAFile)
	}
	if d.TLS.CertFile != "" {
		q.Set("sslcert", d.TLS.CertFile)
	}
	if d.TLS.KeyFile != "" {
		q.Set("sslkey", d.TLS.KeyFile)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func (d *DatabaseConfig) postgresSSLMode() string {
	switch d.TLS.Mode {
	case "", "off":
		return "disable"
	case "skip-verify":
		return "require"
	default:
		return d.TLS.Mode
	}
}

// mysqlTLSParam returns the MySQL tls parameter: the registered config name
// for custom TLS, or empty when no TLS is configured.
func (d *DatabaseConfig) mysqlTLSParam() string {
	switch d.TLS.Mode {
	case "":
		return ""
	case "off":
		return "false"
	case "skip-verify":
		return "skip-verify"
	case "verify-ca", "verify-full":
		return tlsConfigName
	default:
		return d.TLS.Mode
	}
}

// RegisterTLS registers a custom TLS configuration with the MySQL driver.
// It must run before the connection is opened; other drivers take TLS
// settings from the DSN.
func (d *DatabaseConfig) RegisterTLS() error {
	if d.DriverName() != DriverMySQL {
		return nil
	}
	if d.TLS.Mode != "verify-ca" && d.TLS.Mode != "verify-full" {
		return nil
	}
	tlsCfg, err := d.buildTLSConfig()
	if err != nil {
		return fmt.Errorf("failed to build TLS config: %w", err)
	}
	if err := mysql.RegisterTLSConfig(tlsConfigName, tlsCfg); err != nil {
		return fmt.Errorf("failed to register TLS config: %w", err)
	}
	return nil
}

func (d *DatabaseConfig) buildTLSConfig() (*tls.Config, error) {
	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12}

	if d.TLS.CAFile != "" {
		caCert, err := os.ReadFile(d.TLS.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA file %q: %w", d.TLS.CAFile, err)
		}
		certPool := x509.NewCertPool()
		if !certPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to parse CA certificate from %q", d.TLS.CAFile)
		}
		tlsCfg.RootCAs = certPool
	}

	if d.TLS.CertFile != "" && d.TLS.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(d.TLS.CertFile, d.TLS.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	} else if d.TLS.CertFile != "" || d.TLS.KeyFile != "" {
		return nil, fmt.Errorf("both cert_file and key_file must be specified for client certificate authentication")
	}

	if d.TLS.Mode == "verify-full" && d.TLS.ServerName != "" {
		tlsCfg.ServerName = d.TLS.ServerName
	}
	return tlsCfg, nil
}
