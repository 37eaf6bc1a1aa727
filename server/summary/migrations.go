package summary

import (
	"github.com/BurntSushi/migration"
	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/logs"
)

func Migrations(log logs.Log) []migration.Migrator {
	migs := []migration.Migrator{}
	idx := 0

	migs = append(migs, dbh.MakeMigrationFromSQL(log, &idx,
		`
		CREATE TABLE scalar(
			id INTEGER PRIMARY KEY,
			step INT NOT NULL,
			tag TEXT NOT NULL,
			value REAL NOT NULL,
			time INT NOT NULL
		);
		CREATE INDEX idx_scalar_tag_step ON scalar (tag, step);

		CREATE TABLE image(
			id INTEGER PRIMARY KEY,
			step INT NOT NULL,
			tag TEXT NOT NULL,
			path TEXT NOT NULL,
			time INT NOT NULL
		);
		CREATE INDEX idx_image_step ON image (step);
	`))

	migs = append(migs, dbh.MakeMigrationFromSQL(log, &idx,
		`
		CREATE TABLE checkpoint(
			id INTEGER PRIMARY KEY,
			step INT NOT NULL,
			name TEXT NOT NULL,
			time INT NOT NULL
		);
	`))

	return migs
}
