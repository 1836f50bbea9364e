package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"cangate/host/config"
	"cangate/host/link"
	"cangate/host/observability"
	"cangate/host/protect"
	"cangate/host/store"
	"cangate/host/web"
	"cangate/protocol"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	configPath = flag.String("config", "", "Path to TOML config file")
	device     = flag.String("device", "", "Serial device path (overrides config)")
	baud       = flag.Int("baud", 0, "Baud rate (overrides config)")
	addr       = flag.String("addr", "", "HTTP listen address (overrides config)")
)

func main() {
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			observability.InitLogger("cangate", "info")
			log.Fatal().Err(err).Str("path", *configPath).Msg("failed to load config")
		}
		cfg = loaded
	}
	applyFlags(&cfg)

	logger := observability.InitLogger("cangate", cfg.Log.Level)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}
	logger.Info().Str("version", protocol.Version).Str("config", *configPath).Msg("cangate starting")

	if logger.GetLevel() > zerolog.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}

	st := store.New(cfg.Store.MaxReceiveRows)
	if cfg.Store.Path != "" {
		opened, err := store.Open(cfg.Store.Path, cfg.Store.MaxReceiveRows, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to open store")
		}
		st = opened
	}
	defer st.Close()

	for _, e := range cfg.Catalog {
		if err := st.PutCatalog(store.CatalogEntry{CANID: e.CANID, Mode: e.Mode, Description: e.Description}); err != nil {
			logger.Fatal().Err(err).Str("can_id", e.CANID).Msg("invalid catalog entry")
		}
	}

	var ps *protect.State
	opts := link.Options{
		Decoder:     cfg.Protocol.Decoder(),
		Handler:     st.Sink(cfg.Protocol.Format()),
		ReadTimeout: cfg.Serial.ReadTimeout(),
		Logger:      logger,
	}
	if cfg.Protect.EnabledFilter {
		ps = protect.NewState(cfg.Protect.StateFile, logger)
		if err := ps.Load(); err != nil {
			logger.Warn().Err(err).Msg("protect state unreadable, starting unprotected")
		}
		opts.Protection = ps
	}

	l := link.New(opts)
	defer l.Close()

	if cfg.Serial.AutoConnect {
		if err := l.Connect(cfg.Serial.Device, cfg.Serial.Baud); err != nil {
			// The operator can still connect through the API
			logger.Error().Err(err).Msg("auto connect failed")
		}
	}

	srv := web.New(web.Options{
		Link:        l,
		Store:       st,
		Protect:     ps,
		CORSOrigins: cfg.HTTP.CORSOrigins,
		Logger:      logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Serve(ctx, cfg.HTTP.Addr); err != nil {
		logger.Error().Err(err).Msg("http server stopped")
		l.Close()
		st.Close()
		os.Exit(1)
	}
	logger.Info().Msg("cangate stopped")
}

func applyFlags(cfg *config.Config) {
	if *device != "" {
		cfg.Serial.Device = *device
		cfg.Serial.AutoConnect = true
	}
	if *baud != 0 {
		cfg.Serial.Baud = *baud
	}
	if *addr != "" {
		cfg.HTTP.Addr = *addr
	}
}
