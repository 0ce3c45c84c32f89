package config

import (
	"os"
	"testing"
	"time"
)

func TestGetenv(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue string
		envValue     string
		expected     string
	}{
		{
			name:         "returns environment variable when set",
			key:          "TEST_KEY_1",
			defaultValue: "default",
			envValue:     "env_value",
			expected:     "env_value",
		},
		{
			name:         "returns default when environment variable is not set",
			key:          "TEST_KEY_2",
			defaultValue: "default",
			envValue:     "",
			expected:     "default",
		},
		{
			name:         "handles empty default value",
			key:          "TEST_KEY_3",
			defaultValue: "",
			envValue:     "env_value",
			expected:     "env_value",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				os.Setenv(tt.key, tt.envValue)
				defer os.Unsetenv(tt.key)
			}
			if got := getenv(tt.key, tt.defaultValue); got != tt.expected {
				t.Errorf("getenv(%q, %q) = %q, want %q", tt.key, tt.defaultValue, got, tt.expected)
			}
		})
	}
}

func TestGetenvInt(t *testing.T) {
	tests := []struct {
		name     string
		envValue string
		def      int
		expected int
	}{
		{name: "parses valid int", envValue: "42", def: 7, expected: 42},
		{name: "falls back on invalid int", envValue: "not-a-number", def: 7, expected: 7},
		{name: "falls back when unset", envValue: "", def: 7, expected: 7},
		{name: "parses negative int", envValue: "-3", def: 7, expected: -3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := "TEST_INT_KEY"
			os.Unsetenv(key)
			if tt.envValue != "" {
				os.Setenv(key, tt.envValue)
				defer os.Unsetenv(key)
			}
			if got := getenvInt(key, tt.def); got != tt.expected {
				t.Errorf("getenvInt(%q, %d) = %d, want %d", key, tt.def, got, tt.expected)
			}
		})
	}
}

func TestParseBackoffSchedule(t *testing.T) {
	defaultSchedule := []time.Duration{time.Minute, 5 * time.Minute, 15 * time.Minute}

	tests := []struct {
		name     string
		input    string
		expected []time.Duration
	}{
		{
			name:     "empty uses default",
			input:    "",
			expected: defaultSchedule,
		},
		{
			name:     "custom schedule",
			input:    "30s,2m,10m",
			expected: []time.Duration{30 * time.Second, 2 * time.Minute, 10 * time.Minute},
		},
		{
			name:     "whitespace tolerated",
			input:    " 1m , 5m , 15m ",
			expected: defaultSchedule,
		},
		{
			name:     "invalid entries skipped",
			input:    "1m,bogus,5m",
			expected: []time.Duration{time.Minute, 5 * time.Minute},
		},
		{
			name:     "all invalid uses default",
			input:    "bogus,also-bogus",
			expected: defaultSchedule,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseBackoffSchedule(tt.input)
			if len(got) != len(tt.expected) {
				t.Fatalf("parseBackoffSchedule(%q) len = %d, want %d", tt.input, len(got), len(tt.expected))
			}
			for i := range got {
				if got[i] != tt.expected[i] {
					t.Errorf("parseBackoffSchedule(%q)[%d] = %v, want %v", tt.input, i, got[i], tt.expected[i])
				}
			}
		})
	}
}

func TestFromEnvDefaults(t *testing.T) {
	for _, key := range []string{
		"MAX_ATTEMPTS", "BACKOFF_SCHEDULE", "SWEEP_INTERVAL", "SWEEP_BATCH_SIZE",
		"WORKER_CONCURRENCY", "DISPATCH_RATE_PER_SEC", "DB_NAME",
	} {
		os.Unsetenv(key)
	}

	cfg := FromEnv()

	if cfg.Engine.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", cfg.Engine.MaxAttempts)
	}
	if cfg.Engine.SweepBatchSize != 100 {
		t.Errorf("SweepBatchSize = %d, want 100", cfg.Engine.SweepBatchSize)
	}
	if cfg.Engine.WorkerConcurrency != 10 {
		t.Errorf("WorkerConcurrency = %d, want 10", cfg.Engine.WorkerConcurrency)
	}
	if cfg.Engine.DispatchRatePerSec != 100 {
		t.Errorf("DispatchRatePerSec = %v, want 100", cfg.Engine.DispatchRatePerSec)
	}
	want := []time.Duration{time.Minute, 5 * time.Minute, 15 * time.Minute}
	for i, d := range cfg.Engine.BackoffSchedule {
		if d != want[i] {
			t.Errorf("BackoffSchedule[%d] = %v, want %v", i, d, want[i])
		}
	}
}

func TestFromEnvListenAddrs(t *testing.T) {
	// Both port env vars take a bare port number; the colon is added
	// here so the values feed http.Server.Addr directly.
	os.Unsetenv("WORKER_HTTP_PORT")
	os.Unsetenv("FAKE_RECEIVER_PORT")
	cfg := FromEnv()
	if cfg.Worker.HTTPPort != ":8083" {
		t.Errorf("Worker.HTTPPort = %q, want :8083", cfg.Worker.HTTPPort)
	}
	if cfg.FakeReceiver.Port != ":8081" {
		t.Errorf("FakeReceiver.Port = %q, want :8081", cfg.FakeReceiver.Port)
	}

	os.Setenv("WORKER_HTTP_PORT", "9090")
	os.Setenv("FAKE_RECEIVER_PORT", "9091")
	defer os.Unsetenv("WORKER_HTTP_PORT")
	defer os.Unsetenv("FAKE_RECEIVER_PORT")
	cfg = FromEnv()
	if cfg.Worker.HTTPPort != ":9090" {
		t.Errorf("Worker.HTTPPort = %q, want :9090", cfg.Worker.HTTPPort)
	}
	if cfg.FakeReceiver.Port != ":9091" {
		t.Errorf("FakeReceiver.Port = %q, want :9091", cfg.FakeReceiver.Port)
	}
}

func TestDSN(t *testing.T) {
	cfg := Config{DB: DB{User: "u", Pass: "p", Host: "h", Port: "5432", Name: "db"}}
	want := "postgres://u:p@h:5432/db?sslmode=disable"
	if got := cfg.DSN(); got != want {
		t.Errorf("DSN() = %q, want %q", got, want)
	}
}
