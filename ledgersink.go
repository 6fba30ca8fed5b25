package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/arrowglass/ledgersink/admin"
	"github.com/arrowglass/ledgersink/batcher"
	"github.com/arrowglass/ledgersink/cfg"
	"github.com/arrowglass/ledgersink/codec"
	"github.com/arrowglass/ledgersink/coordinator"
	"github.com/arrowglass/ledgersink/publisher"
	_ "github.com/arrowglass/ledgersink/publisher/sink"
	"github.com/arrowglass/ledgersink/selector"
	"github.com/arrowglass/ledgersink/telemetry"
	"github.com/arrowglass/ledgersink/tracker"
	"github.com/arrowglass/ledgersink/writer"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	flag.Parse()

	// Load configuration
	err := cfg.Load(*cfg.ConfigPathFlag)
	if err != nil {
		panic(err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("Invalid configuration: %v", err))
	}

	// Setup logging
	var out io.Writer = zerolog.NewConsoleWriter()
	if cfg.Config.Logging.Format == "json" {
		out = os.Stdout
	}
	gLog := zerolog.New(out).
		With().
		Timestamp().
		Str("instance_id", cfg.Config.InstanceID).
		Logger()

	if cfg.Config.Logging.Verbose {
		log.Logger = gLog.Level(zerolog.DebugLevel)
	} else {
		log.Logger = gLog.Level(zerolog.InfoLevel)
	}

	log.Info().Msg("LedgerSink - Ledger Persistence Adapter")
	log.Debug().Msg("Initializing telemetry")
	telemetry.InitializeTelemetry()
	telemetry.InitMetrics()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Storage connection
	log.Info().Msg("Connecting to storage backend")
	wr, btClient, err := writer.Connect(ctx, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to storage backend")
		return
	}
	defer btClient.Close()

	// Selectors
	accountsSel, err := selector.NewAccountsSelector(cfg.Config.Selector.Accounts, cfg.Config.Selector.Owners)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid accounts selector")
		return
	}
	txSel, err := selector.NewTransactionSelector(cfg.Config.Selector.Mentions)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid transaction selector")
		return
	}

	// Pipeline: codec -> tracker -> batcher -> writer
	cod := codec.New(cfg.Config.Bigtable.MaxCellBytes, cfg.Config.Bigtable.CompressThresholdBytes)
	bat := batcher.New(log.Logger, batcher.ConfigFromGlobal(), wr)

	trk, err := tracker.New(log.Logger, tracker.ConfigFromGlobal(), cod, bat)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize confirmation tracker")
		return
	}

	// Optional commit publisher
	var pub *publisher.Worker
	if cfg.Config.Publisher.Enabled {
		pub, err = publisher.NewWorker(log.Logger, cfg.Config.Publisher, cfg.Config.InstanceID)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize commit publisher")
			return
		}
		log.Info().
			Str("sink", cfg.Config.Publisher.Sink).
			Str("topic", cfg.Config.Publisher.Topic).
			Msg("Commit publisher enabled")
	}

	coord := coordinator.New(log.Logger, accountsSel, txSel, trk, bat, pub)

	// Admin HTTP listener
	if cfg.Config.Admin.Enabled {
		mux := http.NewServeMux()
		admin.RegisterRoutes(mux, admin.NewHandlers(trk, bat, wr))
		addr := fmt.Sprintf("%s:%d", cfg.Config.Admin.BindAddress, cfg.Config.Admin.Port)
		go func() {
			log.Info().Str("addr", addr).Msg("Admin listener started")
			if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("Admin listener failed")
			}
		}()
	}

	// Shutdown on signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info().Str("signal", sig.String()).Msg("Shutting down")
		cancel()
	}()

	log.Info().
		Str("policy", string(cfg.Config.Confirmation.Policy)).
		Str("replay", *cfg.ReplayPathFlag).
		Msg("Pipeline is operational")

	// Ingest the replay stream until EOF or signal.
	if err := runReplay(ctx, coord, *cfg.ReplayPathFlag); err != nil && err != context.Canceled {
		log.Error().Err(err).Msg("Replay stream failed")
	}

	if err := coord.Close(); err != nil {
		log.Error().Err(err).Msg("Shutdown finished with errors")
		os.Exit(1)
	}
	log.Info().Msg("Shutdown complete")
}
