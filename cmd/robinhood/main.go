package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/betbot/robinhood/internal/client"
	"github.com/betbot/robinhood/internal/metrics"
	"github.com/betbot/robinhood/pkg/config"
	"github.com/betbot/robinhood/pkg/logger"
	"github.com/betbot/robinhood/pkg/shutdown"
)

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), `usage: robinhood [-config file] <command> [args]

commands:
  login                               authenticate and store the session
  logout                              forget the stored session
  quote SYMBOL...                     latest quotes
  fundamentals SYMBOL
  historicals [-interval] [-span] [-bounds] SYMBOL
  news SYMBOL
  earnings SYMBOL | -days N
  movers up|down
  watchlist
  positions                           equity and option positions
  portfolio
  chain SYMBOL [-type call|put -expiration YYYY-MM-DD]
  orders [-kind equity|option] [-symbol S] [-days N] [-last N]
  order KIND ID
  buy|sell [-dry] SYMBOL QTY PRICE    limit order for whole shares
  buy-option [-dry] INSTRUMENT_URL QTY PRICE
  cancel KIND ID
  cancel-all KIND
  get URL                             raw GET under the api origin
`)
	flag.PrintDefaults()
}

func main() {
	// .env is optional; real env vars win
	_ = godotenv.Load()

	configPath := flag.String("config", "", "config file (.yaml, .yml, .json)")
	metricsAddr := flag.String("metrics-addr", "", "serve expvar and pprof on this address, e.g. 127.0.0.1:6060")
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}

	if *configPath != "" {
		config.SetConfigPath(*configPath)
	}
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if err := logger.Init(logger.Config{
		Level:      cfg.Log.Level,
		OutputFile: cfg.Log.File,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   true,
		JSON:       cfg.Log.JSON,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	go func() {
		sig := <-sigCh
		logrus.Infof("received %s, stopping", sig)
		cancel()
	}()

	if *metricsAddr != "" {
		if _, err := metrics.StartAsync(ctx, *metricsAddr); err != nil {
			logrus.Warnf("metrics endpoint: %v", err)
		}
	}

	c, err := client.New(cfg)
	if err != nil {
		logrus.Errorf("create client: %v", err)
		os.Exit(1)
	}
	sm := shutdown.NewManager()
	sm.OnShutdown("client", func(context.Context) error { return c.Close() })

	app := &app{cfg: cfg, client: c, in: os.Stdin, out: os.Stdout}
	runErr := app.run(ctx, flag.Args())

	cancel()
	shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	if err := sm.Shutdown(shutdownCtx); err != nil {
		logrus.Warnf("shutdown: %v", err)
	}
	done()

	if runErr != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", runErr)
		os.Exit(1)
	}
}
