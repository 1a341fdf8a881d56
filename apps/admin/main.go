package main

import (
	"fmt"
	"log"
	"os"

	"github.com/pkg/errors"

	"github.com/trezcool/shule/core"
	logsvc "github.com/trezcool/shule/services/logger"
	"github.com/trezcool/shule/storage/database"
	sqlxrepos "github.com/trezcool/shule/storage/database/sqlx"
)

func main() {
	conf := core.NewConfig()

	logger := logsvc.NewRollbarLogger(
		log.New(os.Stdout, "ADMIN : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		conf,
	)
	logger.Enable(!conf.Debug)

	// set up DB
	if err := database.CreateIfNotExist(conf); err != nil {
		logger.Fatal(fmt.Sprintf("creating database: %v", err), err)
	}
	db, err := database.Wait(conf, 5)
	if err != nil {
		logger.Fatal(fmt.Sprintf("connecting to database: %v", err), err)
	}

	// start CLI
	cli := commandLine{
		db:      db,
		usrRepo: sqlxrepos.NewUserRepository(db),
	}
	err = cli.run(os.Args)
	_ = db.Close()
	if err != nil && errors.Cause(err) != errHelp {
		logger.Error(fmt.Sprintf("error: %v", err), err)
	}
	logger.Wait()

	if err != nil {
		os.Exit(1)
	}
}
