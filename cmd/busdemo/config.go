package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type appConfig struct {
	brokerKind      string
	name            string
	bufferSize      int
	address         string
	port            int
	asMaster        bool
	hostKind        string // for -broker=tcp: which kind hosts it (simulate|sharedmemory)
	backpressure    string
	maxQueueDepth   int
	logFormat       string
	logLevel        string
	metricsAddr     string
	logMetricsEvery time.Duration
	mdnsEnable      bool
	mdnsName        string
}

func parseFlags() (*appConfig, bool) {
	cfg := &appConfig{}
	brokerKind := flag.String("broker", "simulate", "Broker kind: simulate|sharedmemory|sharedmemoryserver|sharedmemoryclient|tcp|tcpserver|tcpclient")
	name := flag.String("name", "busdemo", "Broker instance name")
	bufferSize := flag.Int("buffer-size", 65536, "Ring/queue payload buffer size in bytes (simulate, sharedmemory*)")
	address := flag.String("address", "0.0.0.0", "Bind or connect address (tcp*)")
	port := flag.Int("port", 20200, "Bind or connect port (tcp*)")
	asMaster := flag.Bool("master", true, "Create (true) or open (false) the shared-memory region (sharedmemory)")
	hostKind := flag.String("host", "sharedmemory", "In-host broker kind for -broker=tcp: simulate|sharedmemory")
	backpressure := flag.String("backpressure", "drop", "Backpressure policy for in-process fan-out: drop|kick (validated only; no broker kind built here uses it)")
	maxQueueDepth := flag.Int("max-queue-depth", 10000, "Per-subscriber queue depth cap before backpressure applies, 0 disables (validated only; no broker kind built here uses it)")
	logFormat := flag.String("log-format", "text", "Log format: text|json")
	logLevel := flag.String("log-level", "info", "Log level: debug|info|warn|error")
	metricsAddr := flag.String("metrics-addr", "", "Metrics HTTP listen address (e.g., :9100); empty disables")
	logMetricsEvery := flag.Duration("log-metrics-interval", 0, "If >0, periodically log metrics counters")
	mdnsEnable := flag.Bool("mdns-enable", false, "Enable mDNS advertisement")
	mdnsName := flag.String("mdns-name", "", "mDNS instance name (default bus-message-<hostname>)")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	setFlags := map[string]struct{}{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = struct{}{} })

	cfg.brokerKind = *brokerKind
	cfg.name = *name
	cfg.bufferSize = *bufferSize
	cfg.address = *address
	cfg.port = *port
	cfg.asMaster = *asMaster
	cfg.hostKind = *hostKind
	cfg.backpressure = *backpressure
	cfg.maxQueueDepth = *maxQueueDepth
	cfg.logFormat = *logFormat
	cfg.logLevel = *logLevel
	cfg.metricsAddr = *metricsAddr
	cfg.logMetricsEvery = *logMetricsEvery
	cfg.mdnsEnable = *mdnsEnable
	cfg.mdnsName = *mdnsName

	if err := applyEnvOverrides(cfg, setFlags); err != nil {
		fmt.Printf("environment override error: %v\n", err)
		return nil, *showVersion
	}
	if err := cfg.validate(); err != nil {
		fmt.Printf("configuration error: %v\n", err)
		return nil, *showVersion
	}
	return cfg, *showVersion
}

// validate performs basic semantic validation of the parsed configuration.
// It does not attempt to bind sockets or open shared memory.
func (c *appConfig) validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	switch c.brokerKind {
	case "simulate", "sharedmemory", "sharedmemoryserver", "sharedmemoryclient", "tcp", "tcpserver", "tcpclient":
	default:
		return fmt.Errorf("invalid broker: %s", c.brokerKind)
	}
	switch c.hostKind {
	case "simulate", "sharedmemory":
	default:
		return fmt.Errorf("invalid host: %s", c.hostKind)
	}
	switch c.logFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log-format: %s", c.logFormat)
	}
	switch c.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log-level: %s", c.logLevel)
	}
	switch c.backpressure {
	case "drop", "kick":
	default:
		return fmt.Errorf("invalid backpressure: %s", c.backpressure)
	}
	if c.bufferSize <= 0 {
		return fmt.Errorf("buffer-size must be > 0 (got %d)", c.bufferSize)
	}
	if c.maxQueueDepth < 0 {
		return fmt.Errorf("max-queue-depth must be >= 0")
	}
	if (c.brokerKind == "tcp" || c.brokerKind == "tcpserver" || c.brokerKind == "tcpclient") && c.port <= 0 {
		return fmt.Errorf("port must be > 0 for broker %s", c.brokerKind)
	}
	return nil
}

// applyEnvOverrides maps BUSDEMO_* environment variables to config fields
// unless a corresponding flag was explicitly set. Flags win over env.
func applyEnvOverrides(c *appConfig, set map[string]struct{}) error {
	var firstErr error
	get := func(k string) (string, bool) { v, ok := os.LookupEnv(k); return strings.TrimSpace(v), ok }

	if _, ok := set["broker"]; !ok {
		if v, ok := get("BUSDEMO_BROKER"); ok && v != "" {
			c.brokerKind = v
		}
	}
	if _, ok := set["name"]; !ok {
		if v, ok := get("BUSDEMO_NAME"); ok && v != "" {
			c.name = v
		}
	}
	if _, ok := set["buffer-size"]; !ok {
		if v, ok := get("BUSDEMO_BUFFER_SIZE"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				c.bufferSize = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid BUSDEMO_BUFFER_SIZE: %w", err)
			}
		}
	}
	if _, ok := set["address"]; !ok {
		if v, ok := get("BUSDEMO_ADDRESS"); ok && v != "" {
			c.address = v
		}
	}
	if _, ok := set["port"]; !ok {
		if v, ok := get("BUSDEMO_PORT"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				c.port = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid BUSDEMO_PORT: %w", err)
			}
		}
	}
	if _, ok := set["master"]; !ok {
		if v, ok := get("BUSDEMO_MASTER"); ok && v != "" {
			switch strings.ToLower(v) {
			case "1", "true", "yes", "on":
				c.asMaster = true
			case "0", "false", "no", "off":
				c.asMaster = false
			}
		}
	}
	if _, ok := set["host"]; !ok {
		if v, ok := get("BUSDEMO_HOST"); ok && v != "" {
			c.hostKind = v
		}
	}
	if _, ok := set["backpressure"]; !ok {
		if v, ok := get("BUSDEMO_BACKPRESSURE"); ok && v != "" {
			c.backpressure = v
		}
	}
	if _, ok := set["max-queue-depth"]; !ok {
		if v, ok := get("BUSDEMO_MAX_QUEUE_DEPTH"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				c.maxQueueDepth = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid BUSDEMO_MAX_QUEUE_DEPTH: %w", err)
			}
		}
	}
	if _, ok := set["log-format"]; !ok {
		if v, ok := get("BUSDEMO_LOG_FORMAT"); ok && v != "" {
			c.logFormat = v
		}
	}
	if _, ok := set["log-level"]; !ok {
		if v, ok := get("BUSDEMO_LOG_LEVEL"); ok && v != "" {
			c.logLevel = v
		}
	}
	if _, ok := set["metrics-addr"]; !ok {
		if v, ok := get("BUSDEMO_METRICS"); ok {
			c.metricsAddr = v
		}
	}
	if _, ok := set["log-metrics-interval"]; !ok {
		if v, ok := get("BUSDEMO_LOG_METRICS_INTERVAL"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d >= 0 {
				c.logMetricsEvery = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid BUSDEMO_LOG_METRICS_INTERVAL: %w", err)
			}
		}
	}
	if _, ok := set["mdns-enable"]; !ok {
		if v, ok := get("BUSDEMO_MDNS_ENABLE"); ok && v != "" {
			switch strings.ToLower(v) {
			case "1", "true", "yes", "on":
				c.mdnsEnable = true
			case "0", "false", "no", "off":
				c.mdnsEnable = false
			}
		}
	}
	if _, ok := set["mdns-name"]; !ok {
		if v, ok := get("BUSDEMO_MDNS_NAME"); ok && v != "" {
			c.mdnsName = v
		}
	}
	return firstErr
}
