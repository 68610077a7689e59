package main

import (
	"context"
	"expvar"
	"fmt"
	"net/http"
	_ "net/http/pprof" // registers /debug/pprof on the debug server

	echoapi "github.com/azardenmark/dashboard-sub000/apps/api/echo"
	"github.com/azardenmark/dashboard-sub000/apps/di"
	"github.com/azardenmark/dashboard-sub000/core"
	"github.com/azardenmark/dashboard-sub000/core/events"
	"github.com/azardenmark/dashboard-sub000/core/school"
)

func main() {
	// =========================================================================
	// Set up Dependencies

	conf := core.NewConfig()
	ctx := context.Background()

	logger := di.NewLogger(conf)
	logger.Info(fmt.Sprintf("Application initializing : %s version %q", conf, conf.Build))
	defer logger.Info("Application stopped")

	deps, err := di.New(ctx, conf, logger)
	if err != nil {
		logger.Fatal("setting up dependencies", err)
	}
	defer deps.Close()

	if _, err := deps.Bus.Subscribe(events.TopicJobFailed, func(evt events.Event) {
		logger.Warn("job failed", evt.Payload)
	}); err != nil {
		logger.Fatal("subscribing to failed jobs", err)
	}
	schoolSvc := deps.SchoolSvc

	var reconciler *school.PeriodicReconciler
	if conf.Server.ReconcileInterval > 0 {
		reconciler = school.NewPeriodicReconciler(schoolSvc, conf.Server.ReconcileInterval, logger)
		reconciler.Start()
	}

	// =========================================================================
	// Start Debug Service
	//
	// /debug/pprof - Added to the default mux by importing the net/http/pprof package.
	// /debug/vars - Added to the default mux by importing the expvar package.

	expvar.NewString("build").Set(conf.Build)
	expvar.NewString("env").Set(conf.Env)

	go func() {
		if err := http.ListenAndServe(conf.Server.DebugHost, http.DefaultServeMux); err != nil {
			logger.Error("debug server closed", err)
		}
	}()

	// =========================================================================
	// Start API Service

	server := newServer(deps)
	go server.Start()

	// =========================================================================
	// Shutdown

	select {
	case err := <-server.Errors():
		logger.Error("server error", err)

	case sig := <-server.ShutdownSignal():
		logger.Info(fmt.Sprintf("%v: Start shutdown...", sig))
	}

	if reconciler != nil {
		if err := reconciler.Stop(); err != nil {
			logger.Error("stopping reconciler", err)
		}
	}

	// give outstanding requests a deadline for completion
	shutdownCtx, cancel := context.WithTimeout(ctx, conf.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("could not stop server gracefully", err)
		if err := server.Close(); err != nil {
			logger.Error("could not force stop server", err)
		}
	}
}

func newServer(deps *di.Container) echoapi.Server {
	return echoapi.NewServer(echoapi.Options{
		Conf:           deps.Conf,
		Logger:         deps.Logger,
		Translator:     deps.Translator,
		AccountSvc:     deps.AccountSvc,
		SchoolSvc:      deps.SchoolSvc,
		MetricsHandler: deps.Metrics.Handler(),
	})
}
