// README: Scenario runner; drives the ride client through the lifecycle scenarios in-process and prints results.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"go.uber.org/zap"

	"orbix/internal/config"
	"orbix/internal/infra"
)

func main() {
	cfg := loadConfig()

	logger := zap.NewNop()
	if cfg.Verbose {
		l, err := infra.NewLogger("development")
		if err != nil {
			log.Fatal(err)
		}
		logger = l
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	runner := NewRunner(cfg, logger)
	results := runner.RunAll(ctx)

	fmt.Println("\n== Summary ==")
	pass, fail, skipped := 0, 0, 0
	for _, r := range results {
		switch r.Status {
		case statusPass:
			pass++
		case statusFail:
			fail++
		case statusSkip:
			skipped++
		}
	}
	fmt.Printf("PASS=%d FAIL=%d SKIP=%d\n", pass, fail, skipped)

	if fail > 0 || (cfg.Strict && skipped > 0) {
		os.Exit(1)
	}
}

type Config struct {
	DSN         string
	RedisAddr   string
	Strict      bool
	Verbose     bool
	Timeout     time.Duration
	MatchWindow time.Duration
}

func loadConfig() Config {
	config.LoadDotEnvUp(0)

	var cfg Config
	flag.StringVar(&cfg.DSN, "dsn", os.Getenv("ORBIX_DB_DSN"), "Postgres DSN for the journal check")
	flag.StringVar(&cfg.RedisAddr, "redis", os.Getenv("ORBIX_REDIS_ADDR"), "Redis address for the session cache check")
	flag.BoolVar(&cfg.Strict, "strict", false, "Fail when a check is skipped")
	flag.BoolVar(&cfg.Verbose, "v", false, "Log ride client activity")
	flag.DurationVar(&cfg.Timeout, "timeout", 30*time.Second, "Total timeout")
	flag.DurationVar(&cfg.MatchWindow, "match-timeout", 50*time.Millisecond, "No-match timeout used by the timeout scenario")
	flag.Parse()
	return cfg
}
