package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pos_sync/internal/config"
	"pos_sync/internal/connectivity"
	"pos_sync/internal/engine"
	"pos_sync/internal/history"
	"pos_sync/internal/model"
	"pos_sync/internal/remote"
	"pos_sync/internal/router"
	"pos_sync/internal/stock"
	"pos_sync/internal/store"
	"pos_sync/internal/syncer"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var logger = zerolog.New(os.Stdout).With().Timestamp().Str("component", "terminal").Logger()

func main() {
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("load config")
	}

	db, err := gorm.Open(sqlite.Open(cfg.DBPath), &gorm.Config{})
	if err != nil {
		logger.Fatal().Err(err).Msg("db open")
	}
	if err := db.AutoMigrate(&model.OrderRecord{}, &model.StockEntry{}); err != nil {
		logger.Fatal().Err(err).Msg("db migrate")
	}

	st := store.New(db)
	// Before anything else: records caught mid-push by a crash go back to the
	// queue.
	recovered, err := st.RecoverOnBoot()
	if err != nil {
		logger.Fatal().Err(err).Msg("boot recovery")
	}
	if recovered > 0 {
		logger.Info().Int64("count", recovered).Msg("requeued interrupted syncs")
	}

	reconciler := stock.NewReconciler(db, st)
	client := remote.NewClient(cfg.RemoteBaseURL, cfg.RemoteTimeout)
	monitor := connectivity.NewMonitor(client, cfg.ProbeInterval, cfg.ProbeSuccesses)

	coord := syncer.New(st, client, reconciler, monitor, syncer.Options{
		Workers:           cfg.SyncWorkers,
		RetryInterval:     cfg.RetryInterval,
		BackoffBase:       cfg.BackoffBase,
		BackoffCap:        cfg.BackoffCap,
		StockPullInterval: cfg.StockPullInterval,
	})
	view := history.New(st, client, monitor, cfg.HistoryPageSize, cfg.HistoryPullInterval)
	coord.OnChange(view.Refresh)

	eng := engine.New(db, st, reconciler)
	eng.OnCheckout(coord.Notify)
	eng.OnCheckout(view.Refresh)

	ctx, cancel := context.WithCancel(context.Background())
	go monitor.Run(ctx)
	go coord.Run(ctx)
	go view.Run(ctx)

	r := gin.Default()
	router.Setup(r, router.Deps{
		Engine:  eng,
		Store:   st,
		History: view,
		Stock:   reconciler,
		Monitor: monitor,
		Notify:  coord.Notify,
	})

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: r}
	go func() {
		logger.Info().Str("addr", cfg.HTTPAddr).Msg("terminal listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("shutting down")

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
}
