package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"orgcal/internal/calendar"
	"orgcal/internal/config"
	appLog "orgcal/internal/log"
	"orgcal/internal/web"
)

type flagConfig struct {
	configPath string
	listen     string
	once       bool
}

func main() {
	appLog.Info("orgcal starting", "version", "0.1.0")

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		appLog.Warn("failed to load .env", "reason", err.Error())
	}

	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	conf.ApplyEnv(os.LookupEnv)

	// CLI --listen overrides config file listen if provided.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))
	defer appLog.Sync()

	if err := conf.Validate(); err != nil {
		appLog.Error("invalid config", err, "config_path", flags.configPath)
		os.Exit(1)
	}

	loc, err := conf.Location()
	if err != nil {
		appLog.Warn("unknown timezone; using local", "timezone", conf.Timezone)
	}

	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", loc.String(),
		"refresh", conf.RefreshCron,
		"primary_calendar", conf.Calendar.PrimaryID,
		"holiday_calendar", conf.Calendar.HolidayID,
		"google", conf.Google.Enabled(),
		"ics_count", len(conf.ICS),
		"redis", conf.Cache.RedisAddr != "",
		"once", flags.once,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	srcs, err := buildSources(ctx, conf)
	if err != nil {
		appLog.Error("failed to initialize event sources", err)
		os.Exit(1)
	}
	defer srcs.Close()

	engines := buildEngines(conf, srcs, loc)

	if flags.once {
		if err := runOnce(ctx, engines[calendar.ModeFull], conf.Calendar.FetchTimeout*2, os.Stdout); err != nil {
			appLog.Error("single-shot fetch failed", err)
			os.Exit(1)
		}
		return
	}

	for _, e := range engines {
		e.Refresh(ctx)
	}

	sched := cron.New(cron.WithLocation(loc))
	if _, err := sched.AddFunc(conf.RefreshCron, func() { refreshAll(ctx, engines) }); err != nil {
		appLog.Error("invalid refresh schedule", err, "refresh", conf.RefreshCron)
		os.Exit(1)
	}
	sched.Start()

	srv := &http.Server{
		Addr: conf.Listen,
		Handler: web.NewServer(web.Options{
			Engines:    engines,
			BasicAuth:  conf.BasicAuth,
			Invalidate: srcs.Invalidate,
		}).Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 45 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+conf.Listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLog.Error("HTTP server failed", err)
			cancel()
		}
	}()

	<-ctx.Done()
	appLog.Info("shutting down")

	<-sched.Stop().Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLog.Error("HTTP server forced to shutdown", err)
	}
	appLog.Info("orgcal exiting")
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/orgcal/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Fetch the current month, print a summary and exit")

	flag.Parse()

	return cfg
}

func refreshAll(ctx context.Context, engines map[calendar.Mode]*calendar.Engine) {
	for mode, e := range engines {
		tk := e.Refresh(ctx)
		appLog.Debug("scheduled refresh", "mode", mode.String(), "generation", tk.Generation, "month", e.Month().String())
	}
}
