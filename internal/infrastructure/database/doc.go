// Package database provides SQLite connectivity for ESPLEDS Core.
//
// The database holds the parameter write history (see internal/history).
// It is optional: with database.enabled=false the service runs without it
// and the history endpoints report that history is unavailable.
//
// This package manages:
//   - Connection setup with WAL mode and a busy timeout
//   - Schema migrations loaded from an fs.FS (embedded by the migrations package)
//   - Single-connection pooling, since SQLite has one writer
//
// Usage:
//
//	db, err := database.Open(ctx, database.FromConfig(cfg.Database))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// Migrations are additive-only. New columns must be NULLABLE or carry a
// DEFAULT, and each .up.sql should ship with a .down.sql.
package database
