package main

import (
	"context"
	"expvar"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof" // registers /debug/pprof on the default mux
	"os"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"

	echoapi "github.com/trezcool/shule/apps/api/echo"
	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/grading"
	"github.com/trezcool/shule/core/school"
	"github.com/trezcool/shule/core/user"
	emailsvc "github.com/trezcool/shule/services/email"
	exportsvc "github.com/trezcool/shule/services/export"
	logsvc "github.com/trezcool/shule/services/logger"
	"github.com/trezcool/shule/storage/database"
	sqlxrepos "github.com/trezcool/shule/storage/database/sqlx"
)

func main() {
	// =========================================================================
	// Set up Dependencies

	conf := core.NewConfig()

	// set up loggers
	logger := logsvc.NewRollbarLogger(
		log.New(os.Stdout, "API : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		conf,
	)
	logger.Enable(!conf.Debug)
	defer logger.Wait()

	dbLogger := logsvc.NewRollbarLogger(
		log.New(os.Stdout, "DB : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		conf,
	)
	dbLogger.Enable(!conf.Debug)

	// set up DB
	db, err := setUpDB(conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}
	defer func() {
		if err = db.Close(); err != nil {
			dbLogger.Error("Failed to close", err)
		}
	}()

	// =========================================================================
	// Initialize App

	logger.Info(fmt.Sprintf("Application initializing : version %q", conf.Build))
	defer logger.Info("Application stopped")

	validate := validator.New()
	translator := newTranslator()
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)

	core.ParseEmailTemplates(conf, logger)

	user.LoadCommonPasswords(logger)

	// set up services
	var mailSvc core.EmailService
	if conf.Debug {
		mailSvc = emailsvc.NewConsoleService(conf, logger)
	} else {
		mailSvc = emailsvc.NewSendgridService(conf, logger)
	}
	usrSvc := user.NewService(sqlxrepos.NewUserRepository(db), mailSvc, conf)
	schoolSvc := school.NewService(sqlxrepos.NewSchoolRepository(db), validate)
	gradingSvc := grading.NewService(sqlxrepos.NewGradingRepository(db), mailSvc, exportsvc.ReportCardExporter{}, validate, conf)

	// =========================================================================
	// Start Debug Service
	//
	// /debug/pprof - Added to the default mux by importing the net/http/pprof package.
	// /debug/vars - Added to the default mux by importing the expvar package.

	// Expose important info under /debug/vars.
	expvar.NewString("build").Set(conf.Build)
	expvar.NewString("env").Set(conf.Env)

	go func() {
		if err := http.ListenAndServe(conf.Server.DebugHost, http.DefaultServeMux); err != nil {
			logger.Error(fmt.Sprintf("debug server closed: %v", err), err)
		}
	}()

	// =========================================================================
	// Start API Service

	server := echoapi.NewServer(
		echoapi.ServerDeps{
			Conf:       conf,
			Logger:     logger,
			DB:         db,
			UserSvc:    usrSvc,
			SchoolSvc:  schoolSvc,
			GradingSvc: gradingSvc,
			Validate:   validate,
			Translator: translator,
		},
	)

	go server.Start()
	logger.Info(fmt.Sprintf("API listening on %s", conf.Server.Addr))

	// =========================================================================
	// Shutdown

	select {
	case err = <-server.Errors():
		logger.Fatal(fmt.Sprintf("server error: %v", err), err)

	case sig := <-server.ShutdownSignal():
		logger.Info(fmt.Sprintf("%v: Start shutdown...", sig))

		// give outstanding requests a deadline for completion
		ctx, cancel := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout)
		defer cancel()

		// asking listener to shutdown and shed load
		if err = server.Shutdown(ctx); err != nil {
			logger.Error(fmt.Sprintf("could not stop server gracefully: %v", err), err)

			if err = server.Close(); err != nil {
				logger.Fatal(fmt.Sprintf("could not force stop server: %v", err), err)
			}
		}
	}
}

func setUpDB(conf *core.Config) (*sqlx.DB, error) {
	if err := database.CreateIfNotExist(conf); err != nil {
		return nil, err
	}

	db, err := database.Open(conf)
	if err != nil {
		return nil, err
	}

	if err = database.Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

func newTranslator() ut.Translator {
	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ := uni.GetTranslator("en")
	return translator
}
