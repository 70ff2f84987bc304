package db

import (
	"errors"
	"testing"

	"github.com/smallbiznis/clubhouse/internal/config"
)

func TestDSN(t *testing.T) {
	cfg := config.Config{
		DBHost:     "db",
		DBPort:     "5432",
		DBName:     "clubhouse",
		DBUser:     "postgres",
		DBPassword: "secret",
		DBSSLMode:  "disable",
	}

	cfg.DBType = "PostgreSQL"
	dsn, err := DSN(cfg)
	if err != nil {
		t.Fatalf("postgres dsn: %v", err)
	}
	if dsn != "host=db user=postgres password=secret dbname=clubhouse port=5432 sslmode=disable TimeZone=UTC" {
		t.Fatalf("unexpected postgres dsn %q", dsn)
	}

	cfg.DBType = "sqlite"
	cfg.DBName = ""
	dsn, err = DSN(cfg)
	if err != nil {
		t.Fatalf("sqlite dsn: %v", err)
	}
	if dsn != "clubhouse.db?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)" {
		t.Fatalf("unexpected sqlite dsn %q", dsn)
	}

	cfg.DBType = "oracle"
	if _, err := Dialect(cfg); !errors.Is(err, ErrUnsupportedDialect) {
		t.Fatalf("expected ErrUnsupportedDialect, got %v", err)
	}
}
