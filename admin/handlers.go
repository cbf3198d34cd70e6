package admin

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/jonwraymond/restcache/auth"
	"github.com/jonwraymond/restcache/cache"
	"github.com/jonwraymond/restcache/maintenance"
	"github.com/jonwraymond/restcache/observe"
)

const maxBodyBytes = 1 << 16

// ExclusionRequest is the body of POST /v1/exclusions.
type ExclusionRequest struct {
	Host string `json:"host" validate:"required,max=253,hostname_rfc1123|hostname_port|ip"`
}

// ExclusionsResponse lists the excluded hosts.
type ExclusionsResponse struct {
	Hosts []string `json:"hosts"`
}

// RunResponse is returned when a job run is accepted.
type RunResponse struct {
	Job   string `json:"job"`
	RunID string `json:"run_id"`
}

// JobsResponse lists scheduler status.
type JobsResponse struct {
	Jobs []maintenance.Status `json:"jobs"`
}

// EntryResponse describes a cache record. The payload is never returned.
type EntryResponse struct {
	Key           string    `json:"key"`
	Domain        string    `json:"domain"`
	Path          string    `json:"path"`
	Query         string    `json:"query,omitempty"`
	StatusCode    int       `json:"status_code"`
	ExpiresAt     time.Time `json:"expires_at"`
	LastRequested string    `json:"last_requested"`
	Tag           string    `json:"tag,omitempty"`
	NeedsRefresh  bool      `json:"needs_refresh"`
	PayloadBytes  int       `json:"payload_bytes"`
}

// ErrorResponse is the body of every error answer.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody carries an error code, message, and request id.
type ErrorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

func (a *api) listExclusions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, ExclusionsResponse{Hosts: a.exclusions.Hosts()})
}

func (a *api) addExclusion(w http.ResponseWriter, r *http.Request) {
	var req ExclusionRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	if err := a.validate.Struct(req); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_HOST", "host must be a hostname, host:port, or IP address")
		return
	}

	added := a.exclusions.Add(req.Host)
	a.logger.Info(r.Context(), "exclusion added",
		observe.Field{Key: "host", Value: req.Host},
		observe.Field{Key: "new", Value: added},
		observe.Field{Key: "principal", Value: auth.PrincipalFromContext(r.Context())})

	status := http.StatusOK
	if added {
		status = http.StatusCreated
	}
	writeJSON(w, status, ExclusionsResponse{Hosts: a.exclusions.Hosts()})
}

func (a *api) removeExclusion(w http.ResponseWriter, r *http.Request) {
	host := chi.URLParam(r, "host")
	if !a.exclusions.Remove(host) {
		writeError(w, r, http.StatusNotFound, "NOT_FOUND", "host is not excluded")
		return
	}
	a.logger.Info(r.Context(), "exclusion removed",
		observe.Field{Key: "host", Value: host},
		observe.Field{Key: "principal", Value: auth.PrincipalFromContext(r.Context())})
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) listJobs(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, JobsResponse{Jobs: a.jobs.Statuses()})
}

func (a *api) runJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	runID, err := a.jobs.Trigger(name)
	switch {
	case errors.Is(err, maintenance.ErrUnknownJob):
		writeError(w, r, http.StatusNotFound, "UNKNOWN_JOB", err.Error())
		return
	case errors.Is(err, maintenance.ErrJobRunning):
		writeError(w, r, http.StatusConflict, "JOB_RUNNING", err.Error())
		return
	case errors.Is(err, maintenance.ErrSchedulerStopped):
		writeError(w, r, http.StatusServiceUnavailable, "SHUTTING_DOWN", err.Error())
		return
	case err != nil:
		a.logger.Error(r.Context(), "trigger failed",
			observe.Field{Key: "job", Value: name},
			observe.Field{Key: "error", Value: err})
		writeError(w, r, http.StatusInternalServerError, "INTERNAL", "trigger failed")
		return
	}

	a.logger.Info(r.Context(), "job triggered",
		observe.Field{Key: "job", Value: name},
		observe.Field{Key: "run_id", Value: runID},
		observe.Field{Key: "principal", Value: auth.PrincipalFromContext(r.Context())})
	writeJSON(w, http.StatusAccepted, RunResponse{Job: name, RunID: runID})
}

func (a *api) getEntry(w http.ResponseWriter, r *http.Request) {
	rawURL := r.URL.Query().Get("url")
	if rawURL == "" {
		writeError(w, r, http.StatusBadRequest, "MISSING_URL", "url query parameter is required")
		return
	}

	rec, ok, err := a.entries.Lookup(r.Context(), rawURL)
	switch {
	case errors.Is(err, cache.ErrInvalidURL):
		writeError(w, r, http.StatusBadRequest, "INVALID_URL", err.Error())
		return
	case err != nil:
		a.logger.Error(r.Context(), "entry lookup failed", observe.Field{Key: "error", Value: err})
		writeError(w, r, http.StatusInternalServerError, "INTERNAL", "lookup failed")
		return
	case !ok:
		writeError(w, r, http.StatusNotFound, "NOT_FOUND", "no entry for url")
		return
	}
	writeJSON(w, http.StatusOK, entryResponse(rec))
}

func entryResponse(rec cache.Record) EntryResponse {
	return EntryResponse{
		Key:           rec.Key,
		Domain:        redactDomain(rec.Domain),
		Path:          rec.Path,
		Query:         rec.Query,
		StatusCode:    rec.StatusCode,
		ExpiresAt:     rec.ExpiresAt.UTC(),
		LastRequested: rec.LastRequested.UTC().Format(time.DateOnly),
		Tag:           rec.Tag,
		NeedsRefresh:  rec.NeedsRefresh,
		PayloadBytes:  len(rec.Payload),
	}
}

// redactDomain masks the password of a user:pass@host domain, matching
// url.URL.Redacted.
func redactDomain(domain string) string {
	at := strings.LastIndex(domain, "@")
	if at < 0 {
		return domain
	}
	user, _, hasPass := strings.Cut(domain[:at], ":")
	if !hasPass {
		return domain
	}
	return user + ":xxxxx" + domain[at:]
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: ErrorBody{
		Code:      code,
		Message:   message,
		RequestID: middleware.GetReqID(r.Context()),
	}})
}
