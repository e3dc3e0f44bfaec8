package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/mcistack/mci/internal/common/logtrace"
	"github.com/mcistack/mci/internal/mcisrv/blob"
	"github.com/mcistack/mci/internal/mcisrv/config"
	"github.com/mcistack/mci/internal/mcisrv/db"
	"github.com/mcistack/mci/internal/mcisrv/gc"
	"github.com/mcistack/mci/internal/mcisrv/ingest"
	"github.com/mcistack/mci/internal/mcisrv/server"
	"github.com/mcistack/mci/internal/mcisrv/source"
)

func init() {
	logtrace.InitLogger()
}

type cmdoptions struct {
	configFile *string
}

func main() {
	slog := log.With().Str("state", "init").Logger()
	opt := parseFlags()

	slog.Info().Str("config_file", *opt.configFile).Msg("loading config file")
	if err := config.LoadConfig(*opt.configFile); err != nil {
		slog.Error().Str("config_file", *opt.configFile).Err(err).Msg("unable to load config file")
		os.Exit(1)
	}
	cfg := config.Config()
	if cfg.ServerPort == "" {
		slog.Error().Msg("server port not defined")
		os.Exit(1)
	}

	ctx := context.Background()
	md, aerr := db.New(ctx, cfg.Database.Type, cfg.Database.DSN)
	if aerr != nil {
		slog.Error().Err(aerr).Msg("unable to open metadata store")
		os.Exit(1)
	}
	defer md.Close()

	store, aerr := blob.NewFSStore(cfg.BlobStore.Root, cfg.BlobStore.Compress)
	if aerr != nil {
		slog.Error().Err(aerr).Msg("unable to open blob store")
		os.Exit(1)
	}

	fetcher := source.NewFetcher(cfg.FetchTimeout(), int(cfg.Ingest.RetryAttempts))
	engine := ingest.NewEngine(md, store, fetcher)

	collector := gc.New(md, store, cfg.GracePeriod(), cfg.SweepInterval())
	gcCtx, cancelGC := context.WithCancel(ctx)
	defer cancelGC()
	go collector.Run(gcCtx)
	slog.Info().
		Dur("grace_period", cfg.GracePeriod()).
		Dur("sweep_interval", cfg.SweepInterval()).
		Msg("garbage collector started")

	s, err := server.CreateNewServer(md, store, engine)
	if err != nil {
		slog.Error().Err(err).Msg("unable to create server")
		os.Exit(1)
	}
	s.MountHandlers()

	slog.Info().Str("port", cfg.ServerPort).Msg("server listening")
	if err := http.ListenAndServe(":"+cfg.ServerPort, s.Router); err != nil {
		slog.Error().Err(err).Msg("server exited")
		os.Exit(1)
	}
}

func parseFlags() cmdoptions {
	var opt cmdoptions
	opt.configFile = flag.String("config", "", "Path to the config file")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [options]\n\n", os.Args[0])
		fmt.Println("Options:")
		flag.PrintDefaults()
	}
	flag.Parse()
	return opt
}
