// Package database opens the SQLite file that backs the bus inventory and
// keeps its schema current.
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//	err = db.Migrate(ctx, migrations.FS)
//
// Migration files live in the top-level migrations package and are named
// YYYYMMDD_HHMMSS_name.up.sql with a matching .down.sql. Keep them
// additive: new columns are nullable or carry a default.
package database
