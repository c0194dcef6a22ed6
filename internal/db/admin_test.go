package db

import (
	"compress/gzip"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fitcoach/onboard/internal/onboarding"
	"github.com/fitcoach/onboard/internal/testutil"
)

func TestAttachAdminRoutes_Registered(t *testing.T) {
	db := setupTestDB(t)
	mux := http.NewServeMux()
	require.NoError(t, db.AttachAdminRoutes(mux))

	// Non-local callers may be refused, but every route must exist.
	for _, endpoint := range []string{"/debug/db-stats", "/debug/backup", "/debug/tailsql/"} {
		t.Run(endpoint, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, endpoint, nil)
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, req)
			assert.NotEqual(t, http.StatusNotFound, w.Code)
		})
	}
}

func TestServeBackup(t *testing.T) {
	db := setupTestDB(t)
	require.NoError(t, db.CommitPlan(context.Background(), []byte(`["Day 1"]`)))

	w := httptest.NewRecorder()
	db.serveBackup(w, httptest.NewRequest(http.MethodGet, "/debug/backup", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/gzip", w.Header().Get("Content-Type"))

	gz, err := gzip.NewReader(w.Body)
	require.NoError(t, err)
	data, err := io.ReadAll(gz)
	require.NoError(t, err)
	require.Greater(t, len(data), 16)
	assert.Equal(t, "SQLite format 3", string(data[:15]))
}

func TestServeStats(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, db.RecordRun(ctx, onboarding.RunRecord{ID: "a", StartedAt: now, FinishedAt: now, Outcome: onboarding.OutcomeReset, LastState: onboarding.StateCapturingSide}))
	require.NoError(t, db.RecordRun(ctx, onboarding.RunRecord{ID: "b", StartedAt: now, FinishedAt: now, Outcome: onboarding.OutcomeComplete, LastState: onboarding.StateComplete}))
	require.NoError(t, db.CommitPlan(ctx, []byte(`["Day 1"]`)))

	w := testutil.Serve(http.HandlerFunc(db.serveStats), testutil.NewRequest(http.MethodGet, "/debug/db-stats", "", ""))
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)

	st := testutil.DecodeJSON[Stats](t, w)
	assert.Equal(t, Stats{
		SchemaVersion:    2,
		HasGeneratedPlan: true,
		RunsByOutcome:    map[string]int{"complete": 1, "reset": 1},
	}, st)
}
