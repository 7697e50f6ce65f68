package migrations

import (
	"strings"

	"github.com/dmrl789/ippan-bridge/db"
	migrate "github.com/rubenv/sql-migrate"

	_ "embed"
)

const upDownSeparator = "-- +migrate Up"

//go:embed l2registry0001.sql
var mig001 string
var mig001splitted = strings.Split(mig001, upDownSeparator)

var registryMigrations = &migrate.MemoryMigrationSource{
	Migrations: []*migrate.Migration{
		{
			Id:   "l2registry001",
			Up:   []string{mig001splitted[1]},
			Down: []string{mig001splitted[0]},
		},
	},
}

func RunMigrations(dbPath string) error {
	return db.RunMigrations(dbPath, registryMigrations)
}
