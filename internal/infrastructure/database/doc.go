// Package database opens the SQLite file behind the connection history and
// brings its schema up to date.
//
//	db, err := database.Open(cfg.Database)
//	...
//	n, err := db.Migrate(ctx, migrations.FS)
//
// Migrations are forward only. Each file in the migrations directory is
// applied once, in name order, and its checksum is kept in schema_versions;
// editing a file that has already been applied makes Migrate fail. New
// columns must be nullable or carry a default.
package database
