package kvprobe

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("KVPROBE_REDIS_URL", "")
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Store != RedisStore || cfg.Redis.Address != "" {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.Scenarios != DefaultScenarioConfig() {
		t.Errorf("unexpected scenario defaults: %+v", cfg.Scenarios)
	}
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kvprobe.yaml")
	body := `store: memory
redis:
  address: "redis:7000"
  db: 3
scenarios:
  dense_keys: 50
  existing: 10
  absent: 20
  shuffles: 5
  bulk_keys: 7
  seed: 42
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("KVPROBE_REDIS_URL", "redis://example:6380/1")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Store != MemoryStore {
		t.Errorf("store = %q", cfg.Store)
	}
	if cfg.Redis.Address != "redis:7000" || cfg.Redis.DB != 3 {
		t.Errorf("redis = %+v", cfg.Redis)
	}
	if cfg.Redis.URL != "redis://example:6380/1" {
		t.Errorf("env override not applied: %q", cfg.Redis.URL)
	}
	want := ScenarioConfig{DenseKeys: 50, Existing: 10, Absent: 20, Shuffles: 5, BulkKeys: 7, Seed: 42}
	if cfg.Scenarios != want {
		t.Errorf("scenarios = %+v, want %+v", cfg.Scenarios, want)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestScenarioConfigValidate(t *testing.T) {
	tests := []struct {
		name string
		mod  func(*ScenarioConfig)
		ok   bool
	}{
		{"defaults", func(*ScenarioConfig) {}, true},
		{"dense too small", func(s *ScenarioConfig) { s.DenseKeys = 1 }, false},
		{"mixed too small", func(s *ScenarioConfig) { s.Existing, s.Absent = 1, 0 }, false},
		{"no shuffles", func(s *ScenarioConfig) { s.Shuffles = 0 }, false},
		{"no bulk keys", func(s *ScenarioConfig) { s.BulkKeys = 0 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := DefaultScenarioConfig()
			tt.mod(&s)
			if err := s.Validate(); (err == nil) != tt.ok {
				t.Errorf("Validate() = %v, want ok=%v", err, tt.ok)
			}
		})
	}
}

func TestParsePort(t *testing.T) {
	if p, err := ParsePort("6379"); err != nil || p != 6379 {
		t.Errorf("ParsePort(6379) = %d, %v", p, err)
	}
	for _, in := range []string{"", "abc", "0", "70000", "-1"} {
		_, err := ParsePort(in)
		if err == nil {
			t.Errorf("ParsePort(%q) expected error", in)
			continue
		}
		if CodeOf(err) != SetupFailure {
			t.Errorf("ParsePort(%q) code = %v, want SetupFailure", in, CodeOf(err))
		}
	}
}

func TestErrorCodes(t *testing.T) {
	err := Assertionf("scenario x", "value %d differs", 3)
	if !IsAssertion(err) {
		t.Error("Assertionf must produce an assertion error")
	}
	wrapped := Setup(errors.New("dial tcp: refused"))
	if CodeOf(wrapped) != SetupFailure {
		t.Errorf("Setup code = %v", CodeOf(wrapped))
	}
	if Setup(err) != err {
		t.Error("Setup must keep an existing code")
	}
	if Setup(nil) != nil {
		t.Error("Setup(nil) must be nil")
	}
	inner := errors.New("boom")
	if !errors.Is(Error{Code: ScriptRejected, Err: inner}, inner) {
		t.Error("Error must unwrap")
	}
}
