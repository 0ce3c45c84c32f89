package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type DB struct {
	User string
	Pass string
	Host string
	Port string
	Name string
}

type NSQ struct {
	NsqdTCPAddr     string // e.g. nsqd:4150
	LookupHTTPAddr  string // e.g. http://nsqlookupd:4161
	DeliveriesTopic string // NSQ topic for async dispatch tasks
	WorkerChannel   string // NSQ channel name for workers
}

type Engine struct {
	MaxAttempts        int             // Attempt ceiling per delivery
	BackoffSchedule    []time.Duration // Retry backoff durations
	SweepInterval      time.Duration   // Reconciliation sweep period
	SweepBatchSize     int             // Max deliveries per sweep
	WorkerConcurrency  int             // Concurrent async dispatch workers
	DispatchRatePerSec float64         // Attempt rate ceiling across workers
	SignatureTolerance time.Duration   // Receiver-side timestamp leeway
}

type Worker struct {
	HTTPPort string // Worker HTTP metrics/health port
}

type FakeReceiver struct {
	FailFirstN     int           // Number of requests to fail initially
	EndpointSecret string        // Secret for webhook signature verification
	Port           string        // Server listen port
	ResponseDelay  time.Duration // Simulated response delay
}

type Config struct {
	AppName      string
	DB           DB
	NSQ          NSQ
	Engine       Engine
	Worker       Worker
	FakeReceiver FakeReceiver
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getenvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getenvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func parseBackoffSchedule(schedule string) []time.Duration {
	fallback := []time.Duration{time.Minute, 5 * time.Minute, 15 * time.Minute}
	if schedule == "" {
		return fallback
	}

	parts := strings.Split(schedule, ",")
	durations := make([]time.Duration, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if d, err := time.ParseDuration(part); err == nil {
			durations = append(durations, d)
		}
	}
	if len(durations) == 0 {
		return fallback
	}
	return durations
}

func FromEnv() Config {
	return Config{
		AppName: getenv("APP_NAME", "tidehook"),
		DB: DB{
			User: getenv("DB_USER", "postgres"),
			Pass: getenv("DB_PASS", "postgres"),
			Host: getenv("DB_HOST", "postgres"),
			Port: getenv("DB_PORT", "5432"),
			Name: getenv("DB_NAME", "tidehook"),
		},
		NSQ: NSQ{
			NsqdTCPAddr:     getenv("NSQD_TCP_ADDR", "nsqd:4150"),
			LookupHTTPAddr:  getenv("NSQ_LOOKUP_HTTP_ADDR", "http://nsqlookupd:4161"),
			DeliveriesTopic: getenv("NSQ_DELIVERIES_TOPIC", "deliveries"),
			WorkerChannel:   getenv("NSQ_WORKER_CHANNEL", "workers"),
		},
		Engine: Engine{
			MaxAttempts:        getenvInt("MAX_ATTEMPTS", 3),
			BackoffSchedule:    parseBackoffSchedule(getenv("BACKOFF_SCHEDULE", "")),
			SweepInterval:      getenvDuration("SWEEP_INTERVAL", time.Minute),
			SweepBatchSize:     getenvInt("SWEEP_BATCH_SIZE", 100),
			WorkerConcurrency:  getenvInt("WORKER_CONCURRENCY", 10),
			DispatchRatePerSec: getenvFloat("DISPATCH_RATE_PER_SEC", 100),
			SignatureTolerance: getenvDuration("SIGNATURE_TOLERANCE", 5*time.Minute),
		},
		Worker: Worker{
			HTTPPort: ":" + getenv("WORKER_HTTP_PORT", "8083"),
		},
		FakeReceiver: FakeReceiver{
			FailFirstN:     getenvInt("FAIL_FIRST_N", 0),
			EndpointSecret: getenv("ENDPOINT_SECRET", ""),
			Port:           ":" + getenv("FAKE_RECEIVER_PORT", "8081"),
			ResponseDelay:  getenvDuration("RESPONSE_DELAY", 0),
		},
	}
}

func (c Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.DB.User, c.DB.Pass, c.DB.Host, c.DB.Port, c.DB.Name)
}
