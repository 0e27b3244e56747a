package database

import (
	"strings"
	"testing"
	"time"
)

func TestMySQLConfig_DSN(t *testing.T) {
	cfg := MySQLConfig{
		Addr:         "db:3306",
		User:         "fraud",
		Password:     "p@ss:word",
		Database:     "shop",
		QueryTimeout: 2 * time.Second,
	}

	dsn := cfg.DSN()
	if !strings.HasPrefix(dsn, "fraud:p@ss:word@tcp(db:3306)/shop?") {
		t.Fatalf("unexpected dsn prefix: %s", dsn)
	}
	for _, want := range []string{"parseTime=true", "readTimeout=2s", "charset=utf8mb4"} {
		if !strings.Contains(dsn, want) {
			t.Fatalf("expected dsn to contain %q, got %s", want, dsn)
		}
	}
}
