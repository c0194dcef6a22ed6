// Package api exposes the onboarding pipeline over HTTP/JSON.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"strconv"

	"github.com/gorilla/schema"
	"github.com/rs/cors"

	"github.com/fitcoach/onboard/internal/httputil"
	"github.com/fitcoach/onboard/internal/onboarding"
	"github.com/fitcoach/onboard/internal/timeutil"
	"github.com/fitcoach/onboard/internal/units"
	"github.com/fitcoach/onboard/internal/version"
)

// Pipeline is the intent surface of an onboarding.Controller.
type Pipeline interface {
	Snapshot(ctx context.Context) onboarding.Snapshot
	Begin(ctx context.Context) (onboarding.Snapshot, error)
	CaptureRequested(ctx context.Context, slot onboarding.Slot) (onboarding.Snapshot, error)
	FormSubmitted(ctx context.Context, form onboarding.FormInput) (onboarding.Snapshot, error)
	RetryRequested(ctx context.Context) (onboarding.Snapshot, error)
	ResetRequested(ctx context.Context) (onboarding.Snapshot, error)
}

// RunLister lists finished runs for diagnostics.
type RunLister interface {
	RecentRuns(ctx context.Context, limit int) ([]onboarding.RunRecord, error)
}

type Server struct {
	pipeline Pipeline
	store    onboarding.PlanStore
	runs     RunLister
	clock    timeutil.Clock
	decoder  *schema.Decoder
	origins  []string
	units    string
}

// Options configures NewServer. Runs and AllowedOrigins are optional.
type Options struct {
	Pipeline       Pipeline
	Store          onboarding.PlanStore
	Runs           RunLister
	Clock          timeutil.Clock
	AllowedOrigins []string
	// Units is the default measurement display system; requests may
	// override it with ?units=.
	Units string
}

func NewServer(opts Options) *Server {
	dec := schema.NewDecoder()
	dec.IgnoreUnknownKeys(true)
	clock := opts.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	system := opts.Units
	if system == "" {
		system = units.Metric
	}
	return &Server{
		pipeline: opts.Pipeline,
		store:    opts.Store,
		runs:     opts.Runs,
		clock:    clock,
		decoder:  dec,
		origins:  opts.AllowedOrigins,
		units:    system,
	}
}

// ServeMux registers the API routes.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/onboarding", s.showSnapshot)
	mux.HandleFunc("POST /api/onboarding/begin", s.begin)
	mux.HandleFunc("POST /api/onboarding/capture", s.capture)
	mux.HandleFunc("POST /api/onboarding/profile", s.submitProfile)
	mux.HandleFunc("POST /api/onboarding/retry", s.retry)
	mux.HandleFunc("POST /api/onboarding/reset", s.reset)
	mux.HandleFunc("GET /api/plan", s.showPlan)
	mux.HandleFunc("GET /api/route", s.showRoute)
	mux.HandleFunc("GET /api/runs", s.listRuns)
	mux.HandleFunc("GET /api/version", s.showVersion)
	return mux
}

// Handler wraps mux with request logging and CORS.
func (s *Server) Handler(mux *http.ServeMux) http.Handler {
	origins := s.origins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	})
	return c.Handler(LoggingMiddleware(s.clock, mux))
}

// intentContext keeps a stage running when the client disconnects; only a
// reset or shutdown cancels it.
func intentContext(r *http.Request) context.Context {
	return context.WithoutCancel(r.Context())
}

// statusFor maps an intent error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, onboarding.ErrSequence), errors.Is(err, onboarding.ErrBusy), errors.Is(err, onboarding.ErrAbandoned):
		return http.StatusConflict
	case errors.Is(err, onboarding.ErrValidation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, onboarding.ErrCamera),
		errors.Is(err, onboarding.ErrUpload),
		errors.Is(err, onboarding.ErrIncompleteMeasurements),
		errors.Is(err, onboarding.ErrGeneration):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

type intentError struct {
	Error    string              `json:"error"`
	Kind     string              `json:"kind"`
	Snapshot onboarding.Snapshot `json:"snapshot"`
}

// writeIntent writes the snapshot, or the error with the snapshot attached.
func writeIntent(w http.ResponseWriter, snap onboarding.Snapshot, err error) {
	if err != nil {
		httputil.WriteJSON(w, statusFor(err), intentError{
			Error:    onboarding.UserMessage(err),
			Kind:     onboarding.KindName(err),
			Snapshot: snap,
		})
		return
	}
	httputil.WriteJSONOK(w, snap)
}

func (s *Server) showSnapshot(w http.ResponseWriter, r *http.Request) {
	system := s.units
	if q := r.URL.Query().Get("units"); q != "" {
		if !units.IsValid(q) {
			httputil.BadRequest(w, fmt.Sprintf("invalid units %q; must be one of: %s", q, units.GetValidUnitsString()))
			return
		}
		system = q
	}
	snap := s.pipeline.Snapshot(r.Context())
	snap.Measurements = units.ConvertMeasurements(snap.Measurements, system)
	httputil.WriteJSONOK(w, snapshotView{Snapshot: snap, Units: system})
}

// snapshotView adds the display system used for Measurements.
type snapshotView struct {
	onboarding.Snapshot
	Units string `json:"units"`
}

func (s *Server) begin(w http.ResponseWriter, r *http.Request) {
	snap, err := s.pipeline.Begin(intentContext(r))
	writeIntent(w, snap, err)
}

func (s *Server) capture(w http.ResponseWriter, r *http.Request) {
	slot, err := onboarding.ParseSlot(r.URL.Query().Get("slot"))
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	snap, err := s.pipeline.CaptureRequested(intentContext(r), slot)
	writeIntent(w, snap, err)
}

func (s *Server) submitProfile(w http.ResponseWriter, r *http.Request) {
	form, err := s.decodeForm(w, r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	snap, err := s.pipeline.FormSubmitted(intentContext(r), form)
	writeIntent(w, snap, err)
}

const maxFormBytes = 64 << 10

// decodeForm accepts JSON, a urlencoded form or a multipart form. In JSON the
// age may be a string or a number; every other field is a string.
func (s *Server) decodeForm(w http.ResponseWriter, r *http.Request) (onboarding.FormInput, error) {
	var form onboarding.FormInput
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	var values url.Values
	switch mediaType {
	case "application/json":
		var body profileJSON
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			return form, errors.New("invalid JSON body")
		}
		return body.formInput(), nil
	case "multipart/form-data":
		if err := r.ParseMultipartForm(maxFormBytes); err != nil {
			return form, errors.New("invalid multipart body")
		}
		defer r.MultipartForm.RemoveAll()
		values = r.MultipartForm.Value
	default:
		if err := r.ParseForm(); err != nil {
			return form, errors.New("invalid form body")
		}
		values = r.PostForm
	}
	if err := s.decoder.Decode(&form, values); err != nil {
		return form, errors.New("invalid form fields")
	}
	return form, nil
}

type profileJSON struct {
	Age    numberOrString `json:"age"`
	Gender string         `json:"gender"`
	Goal   string         `json:"goal"`
	Level  string         `json:"level"`
}

func (p profileJSON) formInput() onboarding.FormInput {
	return onboarding.FormInput{Age: string(p.Age), Gender: p.Gender, Goal: p.Goal, Level: p.Level}
}

// numberOrString keeps the literal text of a JSON string or number so the
// profile validation sees what the client sent.
type numberOrString string

func (v *numberOrString) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*v = numberOrString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*v = numberOrString(n)
	return nil
}

func (s *Server) retry(w http.ResponseWriter, r *http.Request) {
	snap, err := s.pipeline.RetryRequested(intentContext(r))
	writeIntent(w, snap, err)
}

func (s *Server) reset(w http.ResponseWriter, r *http.Request) {
	snap, err := s.pipeline.ResetRequested(intentContext(r))
	writeIntent(w, snap, err)
}

type planResponse struct {
	Plan onboarding.WorkoutPlan `json:"plan"`
	Days []onboarding.PlanDay   `json:"days"`
}

func (s *Server) showPlan(w http.ResponseWriter, r *http.Request) {
	plan, err := onboarding.LoadPlan(r.Context(), s.store)
	if errors.Is(err, onboarding.ErrNoPlan) {
		httputil.WriteJSONError(w, http.StatusNotFound, "no plan yet")
		return
	}
	if err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	httputil.WriteJSONOK(w, planResponse{Plan: plan, Days: onboarding.PlanDays(plan)})
}

func (s *Server) showRoute(w http.ResponseWriter, r *http.Request) {
	dest, err := onboarding.Route(r.Context(), s.store)
	if err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	httputil.WriteJSONOK(w, map[string]onboarding.Destination{"destination": dest})
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		httputil.WriteJSONOK(w, []onboarding.RunRecord{})
		return
	}
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 500 {
			httputil.BadRequest(w, "limit must be between 1 and 500")
			return
		}
		limit = n
	}
	runs, err := s.runs.RecentRuns(r.Context(), limit)
	if err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if runs == nil {
		runs = []onboarding.RunRecord{}
	}
	httputil.WriteJSONOK(w, runs)
}

func (s *Server) showVersion(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, map[string]string{
		"version":    version.Version,
		"git_sha":    version.GitSHA,
		"build_time": version.BuildTime,
	})
}
