package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"

	"schedsync/internal/config"
	appLog "schedsync/internal/log"
	"schedsync/internal/schedule"
	"schedsync/internal/settings"
	"schedsync/internal/store"
	"schedsync/internal/transport"
	"schedsync/internal/update"
	"schedsync/internal/web"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "1.0.0-dev"

type flagConfig struct {
	configPath  string
	listen      string
	once        bool
	checkUpdate bool
}

func main() {
	os.Exit(run())
}

func run() int {
	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		return 1
	}
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))

	appLog.Info("schedsync starting", "version", version)
	appLog.Info("effective config",
		"listen", conf.Listen,
		"data_dir", conf.DataDir,
		"database", conf.DatabasePath(),
		"base_url", appLog.RedactURL(conf.BaseURL),
		"refresh", conf.RefreshCron,
		"workers", conf.Workers,
		"cache_enabled", conf.Cache.Enabled,
		"timezone", conf.Timezone,
		"once", flags.once,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	set, err := settings.Open(conf.SettingsPath())
	if err != nil {
		appLog.Error("failed to open settings", err, "path", conf.SettingsPath())
		return 1
	}

	client := newClient(conf, set.Get())

	if flags.checkUpdate {
		return checkUpdate(ctx, client, conf)
	}

	st, err := store.Open(conf.DatabasePath())
	if err != nil {
		appLog.Error("failed to open store", err, "path", conf.DatabasePath())
		return 1
	}
	defer st.Close()

	repo := schedule.New(st, client, set, schedule.Options{
		BaseURL:        conf.BaseURL,
		MondayTimesURL: conf.MondayTimesURL,
		OtherTimesURL:  conf.OtherTimesURL,
		DataDir:        conf.DataDir,
		Workers:        conf.Workers,
	})

	if flags.once {
		return runOnce(ctx, repo)
	}

	c := cron.New(cron.WithLocation(conf.Location()))
	if conf.RefreshCron != "" {
		if _, err := c.AddFunc(conf.RefreshCron, func() { syncAll(ctx, repo) }); err != nil {
			appLog.Error("invalid refresh schedule", err, "refresh", conf.RefreshCron)
			return 1
		}
	}
	c.Start()
	go syncAll(ctx, repo)

	checker := update.NewChecker(client, conf.Update.URL, version)
	srv := web.NewServer(conf, repo, checker)
	serveErr := srv.Run(ctx)

	cancel()
	<-c.Stop().Done()

	if serveErr != nil {
		appLog.Error("HTTP server failed", serveErr)
		return 1
	}
	appLog.Info("schedsync exiting")
	return 0
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Run one schedule and reference-times sync, print the outcome and exit")
	flag.BoolVar(&cfg.checkUpdate, "check-update", false, "Check the release feed for a newer version and exit")

	flag.Parse()

	return cfg
}

func newClient(conf *config.Config, s settings.Settings) *transport.Client {
	opts := transport.Options{
		CachingEnabled: conf.Cache.Enabled && s.CachingEnabled,
		Timeout:        conf.Timeout(),
		UserAgent:      conf.HTTP.UserAgent,
	}
	if opts.CachingEnabled {
		opts.CacheDir = conf.CachePath()
	}
	return transport.New(opts)
}

func syncAll(ctx context.Context, repo *schedule.Repository) {
	if ctx.Err() != nil {
		return
	}
	repo.UpdateSchedule(ctx)
	repo.UpdateReferenceTimes(ctx)
}

func runOnce(ctx context.Context, repo *schedule.Repository) int {
	outcomes := []schedule.Outcome{
		repo.UpdateSchedule(ctx),
		repo.UpdateReferenceTimes(ctx),
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(outcomes); err != nil {
		appLog.Error("failed to print outcome", err)
		return 1
	}
	if outcomes[0].Status == schedule.StatusFailure {
		return 1
	}
	return 0
}

func checkUpdate(ctx context.Context, client *transport.Client, conf *config.Config) int {
	res, err := update.NewChecker(client, conf.Update.URL, version).Check(ctx)
	if err != nil {
		appLog.Error("update check failed", err)
		return 1
	}
	if res.Available {
		fmt.Printf("update available: %s (running %s) %s\n", res.Latest.TagName, res.Current, res.Latest.HTMLURL)
	} else {
		fmt.Printf("up to date: %s\n", res.Current)
	}
	return 0
}
