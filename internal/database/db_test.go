package database

import (
	"strings"
	"testing"
)

func TestDSN(t *testing.T) {
	dsn := Options{User: "svc", Pass: "p@ss", Host: "db", Port: "3306", Name: "service_order"}.DSN()
	for _, want := range []string{"svc:p@ss@tcp(db:3306)/service_order", "parseTime=true", "charset=utf8mb4"} {
		if !strings.Contains(dsn, want) {
			t.Fatalf("dsn %q lacks %q", dsn, want)
		}
	}
}
