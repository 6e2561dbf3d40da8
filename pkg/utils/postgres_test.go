package utils

import "testing"

func TestPostgresPoolDefaults(t *testing.T) {
	pool := PostgresPoolConfig{}.withDefaults()
	if pool.MaxOpenConns <= 0 || pool.MaxIdleConns <= 0 {
		t.Fatalf("expected pool defaults, got %+v", pool)
	}
	if pool.PingTimeout <= 0 {
		t.Fatalf("expected ping timeout default")
	}
}
