package main

import (
	"context"
	"database/sql"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	kongdotenv "github.com/titusjaka/kong-dotenv-go"
	_ "modernc.org/sqlite"

	"github.com/weathervane/weathervane/internal/api"
	"github.com/weathervane/weathervane/internal/eval"
	"github.com/weathervane/weathervane/internal/forecast"
	"github.com/weathervane/weathervane/internal/ingest"
	"github.com/weathervane/weathervane/internal/predictor"
	"github.com/weathervane/weathervane/internal/sched"
	"github.com/weathervane/weathervane/internal/store"
)

type cli struct {
	DB       string `name:"db" env:"WEATHERVANE_DB" default:"data/weathervane.db" help:"Path to the SQLite database."`
	Snapshot string `name:"snapshot" env:"WEATHERVANE_SNAPSHOT" default:"data/snapshot.json" help:"Snapshot file for the memory backend."`
	Port     string `name:"port" env:"WEATHERVANE_PORT" default:"8080" help:"HTTP server port."`

	MemoryOnly bool `name:"memory-only" env:"WEATHERVANE_MEMORY_ONLY" help:"Skip SQLite and run on the in-memory backend."`

	SweepInterval  time.Duration `name:"sweep-interval" env:"WEATHERVANE_SWEEP_INTERVAL" default:"30m" help:"Auto-evaluation sweep cadence."`
	PollInterval   time.Duration `name:"poll-interval" env:"WEATHERVANE_POLL_INTERVAL" default:"0" help:"Weather feed poll cadence (0 disables)."`
	ResyncInterval time.Duration `name:"resync-interval" env:"WEATHERVANE_RESYNC_INTERVAL" default:"5m" help:"Snapshot resync cadence (memory backend only)."`

	Latitude  float64 `name:"lat" env:"WEATHERVANE_LAT" default:"52.2297" help:"Station latitude."`
	Longitude float64 `name:"lon" env:"WEATHERVANE_LON" default:"21.0122" help:"Station longitude."`

	SeedDays int `name:"seed-days" env:"WEATHERVANE_SEED_DAYS" default:"0" help:"Seed N days of synthetic history when the store is empty."`
}

func main() {
	var flags cli
	kong.Parse(&flags,
		kong.Name("weathervane"),
		kong.Description("Weather observation store with a linear temperature forecaster and forecast evaluation."),
		kong.Configuration(kongdotenv.ENVFileReader, ".env"),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st := openStore(ctx, flags)
	defer func() {
		if err := st.Close(); err != nil {
			log.Printf("close store: %v", err)
		}
	}()
	log.Printf("storage backend: %s", st.Kind())

	pred := predictor.New()
	forecaster := forecast.NewService(st, pred)
	evaluator := eval.New(st)
	feed := ingest.NewFeedClient(flags.Latitude, flags.Longitude)
	ingestor := ingest.NewService(st, feed)

	if flags.SeedDays > 0 {
		count, err := st.CountObservations(ctx)
		if err != nil {
			log.Fatalf("count observations: %v", err)
		}
		if count == 0 {
			if _, err := ingestor.SeedSynthetic(ctx, flags.SeedDays); err != nil {
				log.Fatalf("seed history: %v", err)
			}
		}
	}

	// Train up front when there is already enough history; otherwise the
	// first /api/train call (or retrain hook) does it.
	if _, err := forecaster.Train(ctx); err != nil {
		log.Printf("initial training skipped: %v", err)
	}

	scheduler := sched.New(sched.Config{
		SweepInterval:  flags.SweepInterval,
		PollInterval:   flags.PollInterval,
		ResyncInterval: flags.ResyncInterval,
	})
	scheduler.SetSweep(evaluator.AutoEvaluate)
	scheduler.SetTrain(func(ctx context.Context) error {
		_, err := forecaster.Train(ctx)
		return err
	})
	if flags.PollInterval > 0 {
		scheduler.SetPoll(func(ctx context.Context) error {
			_, err := ingestor.FetchAndStore(ctx)
			return err
		})
	}
	if mem, ok := st.(*store.Memory); ok {
		scheduler.SetSnapshotter(mem)
	}
	evaluator.SetRetrainHook(scheduler.RequestRetrain)

	if err := scheduler.Start(ctx); err != nil {
		log.Fatalf("start scheduler: %v", err)
	}
	defer scheduler.Stop()

	server := api.NewServer(st, ingestor, forecaster, evaluator, flags.Port)
	if err := server.Run(ctx); err != nil {
		log.Fatalf("server: %v", err)
	}
	log.Println("shut down cleanly")
}

// openStore selects the backend once for the process lifetime: SQLite when it
// opens and migrates, otherwise the snapshot-backed memory store.
func openStore(ctx context.Context, flags cli) store.Store {
	if !flags.MemoryOnly {
		st, err := openSQLite(ctx, flags.DB)
		if err == nil {
			return st
		}
		log.Printf("sqlite backend unavailable, falling back to memory: %v", err)
	}

	mem, err := store.NewMemory(flags.Snapshot)
	if err != nil {
		log.Fatalf("open memory backend: %v", err)
	}
	return mem
}

func openSQLite(ctx context.Context, path string) (*store.SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	db.Exec("PRAGMA journal_mode=WAL")
	db.Exec("PRAGMA busy_timeout=5000")
	db.Exec("PRAGMA foreign_keys=ON")

	pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, err
	}

	st := store.NewSQLite(db)
	if err := st.Migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return st, nil
}
