package main

import (
	"context"
	"expvar"
	"fmt"
	"net/http"
	_ "net/http/pprof"

	echoapi "github.com/trezcool/taskpool/apps/api/echo"
	"github.com/trezcool/taskpool/apps/shared"
	"github.com/trezcool/taskpool/core"
	"github.com/trezcool/taskpool/core/user"
	emailsvc "github.com/trezcool/taskpool/services/email"
	"github.com/trezcool/taskpool/services/events"
	logsvc "github.com/trezcool/taskpool/services/logger"
	"github.com/trezcool/taskpool/services/scheduler"
	"github.com/trezcool/taskpool/storage"
	"github.com/trezcool/taskpool/storage/database"
)

func main() {
	// =========================================================================
	// Set up Dependencies

	conf := core.NewConfig()

	// set up loggers
	logger := logsvc.NewRollbarLogger("API", conf)
	defer logger.Sync()
	dbLogger := logsvc.NewRollbarLogger("DB", conf)
	jobsLogger := logsvc.NewRollbarLogger("JOBS", conf)

	// set up storage
	repos, err := setUpStorage(conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up storage: %v", err), err)
	}
	defer func() {
		if err = repos.Close(); err != nil {
			dbLogger.Error("Failed to close", err)
		}
	}()

	// set up services
	hub := events.NewHub(logger)
	go hub.Run()
	defer hub.Stop()

	svcs := shared.NewServices(shared.Deps{
		Conf:   conf,
		Repos:  repos,
		Logger: logger,
		Events: hub,
		Mail:   emailsvc.NewService(conf, logger),
	})

	// =========================================================================
	// Initialize App

	logger.Info(fmt.Sprintf("Application initializing : version %q", conf.Build))
	defer logger.Info("Application stopped")

	core.ParseEmailTemplates(logger)
	user.LoadCommonPasswords(logger)

	// =========================================================================
	// Start Debug Service
	//
	// /debug/pprof - Added to the default mux by importing the net/http/pprof package.
	// /debug/vars - Added to the default mux by importing the expvar package.

	// Expose important info under /debug/vars.
	expvar.NewString("build").Set(conf.Build)
	expvar.NewString("env").Set(conf.Env)
	expvar.Publish("ws_clients", expvar.Func(func() interface{} { return hub.Clients() }))

	go func() {
		if err := http.ListenAndServe(conf.Server.DebugHost, http.DefaultServeMux); err != nil {
			logger.Error(fmt.Sprintf("debug server closed: %v", err), err)
		}
	}()

	// =========================================================================
	// Start Jobs

	jobs := scheduler.New(jobsLogger)
	shared.RegisterJobs(jobs, svcs)
	if !conf.Jobs.Disabled {
		jobs.Start(context.Background())
	}
	defer jobs.Stop()

	// =========================================================================
	// Start API Service

	server := echoapi.NewServer(echoapi.ServerDeps{
		Conf:   conf,
		Logger: logger,
		Svcs:   svcs,
		Hub:    hub,
	})

	go func() {
		server.Start()
	}()

	// =========================================================================
	// Shutdown

	select {
	case err = <-server.Errors():
		logger.Error(fmt.Sprintf("server error: %v", err), err)

	case sig := <-server.ShutdownSignal():
		logger.Info(fmt.Sprintf("%v: Start shutdown...", sig))

		// give outstanding requests a deadline for completion
		ctx, cancel := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout)
		defer cancel()

		// asking listener to shutdown and shed load
		if err = server.Shutdown(ctx); err != nil {
			logger.Error(fmt.Sprintf("could not stop server gracefully: %v", err), err)

			if err = server.Close(); err != nil {
				logger.Error(fmt.Sprintf("could not force stop server: %v", err), err)
			}
		}
	}
}

func setUpStorage(conf *core.Config) (*storage.Repositories, error) {
	if conf.Database.Engine != "memory" {
		if err := database.CreateIfNotExist(conf); err != nil {
			return nil, err
		}
	}

	repos, err := storage.Open(conf)
	if err != nil {
		return nil, err
	}

	if err = repos.Migrate(); err != nil {
		_ = repos.Close()
		return nil, err
	}
	return repos, nil
}
