package main

import (
	"database/sql"
	"fmt"
	"os"

	"github.com/trezcool/taskpool/apps/shared"
	"github.com/trezcool/taskpool/core"
	emailsvc "github.com/trezcool/taskpool/services/email"
	logsvc "github.com/trezcool/taskpool/services/logger"
	"github.com/trezcool/taskpool/storage"
)

func main() {
	conf := core.NewConfig()
	logger := logsvc.NewRollbarLogger("ADMIN", conf)
	defer logger.Sync()

	repos, err := storage.Open(conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("opening storage: %v", err), err)
	}

	var db *sql.DB
	if repos.DB != nil {
		db = repos.DB.DB
	}
	cli := commandLine{
		db: db,
		svcs: shared.NewServices(shared.Deps{
			Conf:   conf,
			Repos:  repos,
			Logger: logger,
			Mail:   emailsvc.NewConsoleService(conf, logger),
		}),
		out: os.Stdout,
	}
	err = cli.run(os.Args)
	_ = repos.Close()
	if err != nil {
		if err != errHelp {
			fmt.Printf("\nerror: %s\n", err)
		}
		os.Exit(1)
	}
}
