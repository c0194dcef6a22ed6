package db

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"

	"github.com/fitcoach/onboard/internal/monitoring"
	"github.com/fitcoach/onboard/internal/security"
)

var adminLog = monitoring.Component("db")

// AttachAdminRoutes mounts the /debug/ pages: a live SQL console over the
// store and an on-demand gzip backup.
func (db *DB) AttachAdminRoutes(mux *http.ServeMux) error {
	debug := tsweb.Debugger(mux)
	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("failed to create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://"+filepath.Base(db.Path), db.DB, &tailsql.DBOptions{
		Label: "Onboarding DB",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())
	debug.Handle("db-stats", "Schema version and onboarding run counts", http.HandlerFunc(db.serveStats))
	debug.Handle("backup", "Create and download a backup of the database now", http.HandlerFunc(db.serveBackup))
	return nil
}

func (db *DB) serveBackup(w http.ResponseWriter, r *http.Request) {
	dir := filepath.Dir(db.Path)
	backupPath, err := security.JoinWithin(dir, fmt.Sprintf("backup-%d.db", db.Clock.Now().Unix()))
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to create backup: %v", err), http.StatusInternalServerError)
		return
	}
	if _, err := db.ExecContext(r.Context(), "VACUUM INTO ?", backupPath); err != nil {
		http.Error(w, fmt.Sprintf("Failed to create backup: %v", err), http.StatusInternalServerError)
		return
	}
	defer func() {
		if err := os.Remove(backupPath); err != nil {
			adminLog("failed to remove backup file: %v", err)
		}
	}()

	f, err := os.Open(backupPath)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to open backup file: %v", err), http.StatusInternalServerError)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.gz", filepath.Base(backupPath)))
	w.Header().Set("Content-Type", "application/gzip")

	gz := gzip.NewWriter(w)
	if _, err := io.Copy(gz, f); err != nil {
		adminLog("backup stream failed: %v", err)
		return
	}
	if err := gz.Close(); err != nil {
		adminLog("backup stream failed: %v", err)
	}
}

// Stats is the /debug/db-stats payload.
type Stats struct {
	SchemaVersion    uint           `json:"schema_version"`
	Dirty            bool           `json:"dirty"`
	HasGeneratedPlan bool           `json:"has_generated_plan"`
	RunsByOutcome    map[string]int `json:"runs_by_outcome"`
}

// Stats collects the figures shown on the debug page.
func (db *DB) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	var err error
	if st.SchemaVersion, st.Dirty, err = db.MigrateVersion(); err != nil {
		return st, err
	}
	if st.HasGeneratedPlan, err = db.HasGeneratedPlan(ctx); err != nil {
		return st, err
	}
	rows, err := db.QueryContext(ctx, `SELECT outcome, COUNT(*) FROM onboarding_runs GROUP BY outcome`)
	if err != nil {
		return st, fmt.Errorf("failed to count runs: %w", err)
	}
	defer rows.Close()
	st.RunsByOutcome = map[string]int{}
	for rows.Next() {
		var outcome string
		var n int
		if err := rows.Scan(&outcome, &n); err != nil {
			return st, err
		}
		st.RunsByOutcome[outcome] = n
	}
	return st, rows.Err()
}

func (db *DB) serveStats(w http.ResponseWriter, r *http.Request) {
	st, err := db.Stats(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(st); err != nil {
		adminLog("failed to encode stats: %v", err)
	}
}
