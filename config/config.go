// Package config loads the CU/MU configuration surface from the
// environment, failing fast when a required option is unset (spec.md §6).
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/aonet/cu/cuerr"
)

// Mode selects runtime behavior tuned for development vs production.
type Mode string

const (
	ModeDevelopment Mode = "development"
	ModeProduction  Mode = "production"
)

// Config is the recognized option set from spec.md §6.
type Config struct {
	SequencerURL            *url.URL
	GatewayURL              *url.URL
	CUURL                   *url.URL
	DBPath                  string
	DBMaxListeners          int
	MySQLDSN                string // optional alternate Result Store backend
	ProcessMemCacheMaxSize  int64
	ProcessMemCacheTTL      time.Duration
	AOLoadMaxBlock          int64
	Mode                    Mode
	Port                    int
	MUWallet                string
	CrankMaxDepth           int           // [AMBIENT] not named by spec.md, default below
	MonitorInterval         time.Duration // [AMBIENT] spec.md says "~1s", configurable here
}

// Load reads Config from the environment. Required options
// (SEQUENCER_URL, GATEWAY_URL, CU_URL, DB_PATH, MU_WALLET) fail fast if
// unset, per spec.md §6.
func Load() (*Config, error) {
	c := &Config{
		CrankMaxDepth:   32,
		MonitorInterval: time.Second,
	}

	var err error
	if c.SequencerURL, err = requiredURL("SEQUENCER_URL"); err != nil {
		return nil, err
	}
	if c.GatewayURL, err = requiredURL("GATEWAY_URL"); err != nil {
		return nil, err
	}
	if c.CUURL, err = requiredURL("CU_URL"); err != nil {
		return nil, err
	}
	if c.DBPath, err = required("DB_PATH"); err != nil {
		return nil, err
	}
	if c.MUWallet, err = required("MU_WALLET"); err != nil {
		return nil, err
	}

	c.MySQLDSN = os.Getenv("MYSQL_DSN")

	c.DBMaxListeners = optionalInt("DB_MAX_LISTENERS", 10)
	c.ProcessMemCacheMaxSize = optionalInt64("PROCESS_MEMORY_CACHE_MAX_SIZE", 500*1024*1024)
	c.ProcessMemCacheTTL = time.Duration(optionalInt64("PROCESS_MEMORY_CACHE_TTL", 24*60*60*1000)) * time.Millisecond
	c.AOLoadMaxBlock = optionalInt64("AO_LOAD_MAX_BLOCK", 0)
	c.Port = optionalInt("PORT", 6363)

	switch Mode(os.Getenv("MODE")) {
	case ModeProduction:
		c.Mode = ModeProduction
	default:
		c.Mode = ModeDevelopment
	}

	if v, ok := os.LookupEnv("CRANK_MAX_DEPTH"); ok {
		if n, perr := strconv.Atoi(v); perr == nil {
			c.CrankMaxDepth = n
		}
	}
	if v, ok := os.LookupEnv("MONITOR_INTERVAL_MS"); ok {
		if n, perr := strconv.Atoi(v); perr == nil {
			c.MonitorInterval = time.Duration(n) * time.Millisecond
		}
	}

	return c, nil
}

func required(name string) (string, error) {
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return "", fmt.Errorf("config: required option %s is unset: %w", name, cuerr.ErrFatal)
	}
	return v, nil
}

func requiredURL(name string) (*url.URL, error) {
	v, err := required(name)
	if err != nil {
		return nil, err
	}
	u, err := url.Parse(v)
	if err != nil {
		return nil, fmt.Errorf("config: %s is not a valid URL: %w", name, cuerr.ErrFatal)
	}
	return u, nil
}

func optionalInt(name string, def int) int {
	if v, ok := os.LookupEnv(name); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func optionalInt64(name string, def int64) int64 {
	if v, ok := os.LookupEnv(name); ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}
