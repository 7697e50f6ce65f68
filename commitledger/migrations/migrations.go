package migrations

import (
	"strings"

	"github.com/dmrl789/ippan-bridge/db"
	migrate "github.com/rubenv/sql-migrate"

	_ "embed"
)

const upDownSeparator = "-- +migrate Up"

//go:embed commitledger0001.sql
var mig001 string
var mig001splitted = strings.Split(mig001, upDownSeparator)

var ledgerMigrations = &migrate.MemoryMigrationSource{
	Migrations: []*migrate.Migration{
		{
			Id:   "commitledger001",
			Up:   []string{mig001splitted[1]},
			Down: []string{mig001splitted[0]},
		},
	},
}

func RunMigrations(dbPath string) error {
	return db.RunMigrations(dbPath, ledgerMigrations)
}
