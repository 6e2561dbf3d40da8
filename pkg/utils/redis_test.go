package utils

import "testing"

func TestConnSlotScriptsCompile(t *testing.T) {
	// Compile-time smoke test: scripts should be initialized.
	if connSlotAcquireScript == nil || connSlotReleaseScript == nil {
		t.Fatalf("expected scripts to be initialized")
	}
}

func TestRedisConfigDefaults(t *testing.T) {
	cfg := RedisConfig{Addr: "localhost:6379"}.withDefaults()
	if cfg.PoolSize <= 0 {
		t.Fatalf("expected pool size default")
	}
	if cfg.PingTimeout <= 0 {
		t.Fatalf("expected ping timeout default")
	}
}
