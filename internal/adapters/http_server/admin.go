package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"thebestitaly/internal/app"
	"thebestitaly/internal/domain"
)

// SnapshotAdmin is the operator surface over the snapshot writer.
type SnapshotAdmin interface {
	Status(langs ...string) map[string]domain.CacheStatus
	GenerateStaticDestinations(ctx context.Context, langs []string) []app.LangResult
	Invalidate(ctx context.Context, langs ...string) ([]string, error)
	FixMissingProvinces(ctx context.Context, lang string) (app.FixReport, error)
	DefaultLanguages() []string
}

type CacheStatser interface {
	Stats() app.CacheStats
}

// RunHistory reports the latest recorded run per language.
type RunHistory interface {
	LastRuns(ctx context.Context) (map[string]domain.GenerationRun, error)
}

type Admin struct {
	Svc     SnapshotAdmin
	Memory  CacheStatser // optional
	Runs    RunHistory   // optional
	Token   string
	Timeout time.Duration
	Now     func() time.Time
}

type adminRequest struct {
	Action    string   `json:"action"`
	Languages []string `json:"languages"`
}

type adminResponse struct {
	Success     bool                            `json:"success"`
	Action      string                          `json:"action,omitempty"`
	Error       string                          `json:"error,omitempty"`
	CacheStatus map[string]domain.CacheStatus   `json:"cache_status,omitempty"`
	Timestamp   string                          `json:"timestamp,omitempty"`
	Memory      *app.CacheStats                 `json:"memory,omitempty"`
	Results     []app.LangResult                `json:"results,omitempty"`
	Invalidated []string                        `json:"invalidated,omitempty"`
	Fix         *app.FixReport                  `json:"fix,omitempty"`
	LastRuns    map[string]domain.GenerationRun `json:"last_runs,omitempty"`
}

func (s *Server) MountAdmin(a *Admin) {
	if a.Now == nil {
		a.Now = time.Now
	}
	if a.Timeout <= 0 {
		a.Timeout = 10 * time.Minute
	}
	s.mux.Route("/api/admin", func(r chi.Router) {
		r.Use(BearerAuth(a.Token))
		r.Use(Timeout(a.Timeout))
		r.Get("/static-cache", a.status)
		r.Post("/static-cache", a.action)
		r.Delete("/static-cache", a.invalidateAll)
	})
}

func writeAdmin(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("write admin response failed")
	}
}

func writeAdminError(w http.ResponseWriter, status int, msg string) {
	writeAdmin(w, status, adminResponse{Success: false, Error: msg})
}

func (a *Admin) base(langs ...string) adminResponse {
	resp := adminResponse{
		Success:     true,
		CacheStatus: a.Svc.Status(langs...),
		Timestamp:   a.Now().UTC().Format(time.RFC3339),
	}
	if a.Memory != nil {
		st := a.Memory.Stats()
		resp.Memory = &st
	}
	return resp
}

func (a *Admin) status(w http.ResponseWriter, r *http.Request) {
	resp := a.base()
	if a.Runs != nil {
		runs, err := a.Runs.LastRuns(r.Context())
		if err != nil {
			// the run log is auxiliary; status is still answered
			log.Warn().Err(err).Msg("last runs unavailable")
		}
		resp.LastRuns = runs
	}
	writeAdmin(w, http.StatusOK, resp)
}

func (a *Admin) action(w http.ResponseWriter, r *http.Request) {
	var req adminRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		writeAdminError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	switch req.Action {
	case "generate":
		a.generate(w, r, req.Languages)
	case "invalidate":
		a.invalidate(w, r, req.Languages)
	case "fix":
		a.fix(w, r, req.Languages)
	default:
		writeAdminError(w, http.StatusBadRequest, "unknown action: use generate, invalidate or fix")
	}
}

func (a *Admin) generate(w http.ResponseWriter, r *http.Request, langs []string) {
	if len(langs) == 0 {
		langs = a.Svc.DefaultLanguages()
	}
	results := a.Svc.GenerateStaticDestinations(r.Context(), langs)

	var ok, unsupported, upstream int
	var written []string
	for _, res := range results {
		switch {
		case res.OK:
			ok++
			written = append(written, res.Language)
		case errors.Is(res.Err, domain.ErrUnsupportedLang):
			unsupported++
		default:
			var uf *domain.UpstreamFetchError
			if errors.As(res.Err, &uf) {
				upstream++
			}
		}
	}

	resp := a.base(written...)
	resp.Action = "generate"
	resp.Results = results
	resp.Success = ok == len(results)

	status := http.StatusOK
	switch {
	case resp.Success:
	case ok > 0:
		status = http.StatusMultiStatus
	case unsupported == len(results):
		status = http.StatusBadRequest
		resp.Error = "no supported language requested"
	case upstream > 0:
		status = http.StatusBadGateway
		resp.Error = "upstream fetch failed"
	default:
		status = http.StatusInternalServerError
		resp.Error = "generation failed"
	}
	writeAdmin(w, status, resp)
}

func (a *Admin) invalidate(w http.ResponseWriter, r *http.Request, langs []string) {
	done, err := a.Svc.Invalidate(r.Context(), langs...)
	if errors.Is(err, domain.ErrUnsupportedLang) {
		writeAdminError(w, http.StatusBadRequest, err.Error())
		return
	}
	resp := a.base(langs...)
	resp.Action = "invalidate"
	resp.Invalidated = done
	if err != nil {
		log.Error().Err(err).Msg("invalidate failed")
		resp.Success = false
		resp.Error = err.Error()
		writeAdmin(w, http.StatusInternalServerError, resp)
		return
	}
	writeAdmin(w, http.StatusOK, resp)
}

func (a *Admin) invalidateAll(w http.ResponseWriter, r *http.Request) {
	a.invalidate(w, r, nil)
}

func (a *Admin) fix(w http.ResponseWriter, r *http.Request, langs []string) {
	lang := domain.DefaultLanguage
	if len(langs) > 0 {
		lang = langs[0]
	}
	rep, err := a.Svc.FixMissingProvinces(r.Context(), lang)
	switch {
	case errors.Is(err, domain.ErrUnsupportedLang):
		writeAdminError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, domain.ErrSnapshotMissing):
		writeAdminError(w, http.StatusConflict, "no snapshot for "+rep.Language+"; run generate first")
		return
	}

	resp := a.base(rep.Language)
	resp.Action = "fix"
	resp.Fix = &rep
	if err != nil {
		log.Error().Err(err).Str("lang", rep.Language).Msg("fix failed")
		resp.Success = false
		resp.Error = err.Error()
		writeAdmin(w, http.StatusInternalServerError, resp)
		return
	}
	resp.Success = len(rep.Failed) == 0
	status := http.StatusOK
	if !resp.Success {
		status = http.StatusMultiStatus
	}
	writeAdmin(w, status, resp)
}
