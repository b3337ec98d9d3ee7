package httpserver

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"thebestitaly/internal/domain"
)

// Reader is the read side consumed by the public routes.
type Reader interface {
	GetDestinationDetails(ctx context.Context, identifier, lang string, typ domain.DestinationType) (*domain.Destination, error)
	GetProvincesForRegion(ctx context.Context, regionID int64, lang string) ([]domain.Destination, error)
	GetMunicipalitiesForProvince(ctx context.Context, provinceID int64, lang string) ([]domain.Destination, error)
}

type Handlers struct{ Q Reader }

type problem struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

type listResponse struct {
	Language string               `json:"language"`
	ParentID int64                `json:"parent_id"`
	Items    []domain.Destination `json:"items"`
}

func (s *Server) MountHandlers(h *Handlers) {
	s.mux.Group(func(r chi.Router) {
		r.Use(Timeout(publicTimeout))
		r.Get("/v1/destinations/*", redirectToLanguage)
		r.Route("/v1/{lang}", func(r chi.Router) {
			r.Use(requireLanguage)
			r.Get("/destinations/{type}/{slug}", h.getDestination)
			r.Get("/regions/{id}/provinces", h.listProvinces)
			r.Get("/provinces/{id}/municipalities", h.listMunicipalities)
		})
	})
}

// redirectToLanguage sends language-less paths to the negotiated language.
func redirectToLanguage(w http.ResponseWriter, r *http.Request) {
	lang := domain.NegotiateLanguage(r.Header.Get("Accept-Language"))
	target := "/v1/" + lang + strings.TrimPrefix(r.URL.Path, "/v1")
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}
	w.Header().Set("Vary", "Accept-Language")
	http.Redirect(w, r, target, http.StatusFound)
}

func requireLanguage(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lang := chi.URLParam(r, "lang")
		if !domain.IsSupportedLanguage(lang) || domain.NormalizeLanguage(lang) != lang {
			writeProblem(w, http.StatusNotFound, "Not Found", "unsupported language")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeProblem(w http.ResponseWriter, status int, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(problem{Type: "about:blank", Title: title, Status: status, Detail: detail}); err != nil {
		log.Error().Err(err).Msg("write JSON problem response failed")
	}
}

// calcETagAndBody marshals once and hashes once, returning both ETag and body.
func calcETagAndBody(v any) (string, []byte) {
	body, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal object for ETag/body")
		return "", nil
	}
	sum := sha1.Sum(body)
	etag := `W/"` + hex.EncodeToString(sum[:]) + `"`
	return etag, body
}

// writeCached writes v as JSON with a weak ETag, answering 304 when the
// client already holds it.
func writeCached(w http.ResponseWriter, r *http.Request, lang string, v any) {
	etag, body := calcETagAndBody(v)
	if body == nil {
		writeProblem(w, http.StatusInternalServerError, "Internal Server Error", "")
		return
	}
	w.Header().Set("ETag", etag)
	w.Header().Set("Content-Language", lang)
	if inm := r.Header.Get("If-None-Match"); inm != "" && inm == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		log.Error().Err(err).Str("route", routePattern(r)).Msg("failed to write body")
	}
}

func writeReadError(w http.ResponseWriter, err error, detail string) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeProblem(w, http.StatusNotFound, "Not Found", detail)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		writeProblem(w, http.StatusServiceUnavailable, "Service Unavailable", "request timed out")
	default:
		log.Error().Err(err).Msg("read failed")
		writeProblem(w, http.StatusInternalServerError, "Internal Server Error", "")
	}
}

func (h *Handlers) getDestination(w http.ResponseWriter, r *http.Request) {
	lang := chi.URLParam(r, "lang")
	typ, err := domain.ParseDestinationType(chi.URLParam(r, "type"))
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid type", "type must be region, province or municipality")
		return
	}
	d, err := h.Q.GetDestinationDetails(r.Context(), chi.URLParam(r, "slug"), lang, typ)
	if err != nil {
		writeReadError(w, err, "destination not found")
		return
	}
	writeCached(w, r, lang, d)
}

func (h *Handlers) listProvinces(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, h.Q.GetProvincesForRegion)
}

func (h *Handlers) listMunicipalities(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, h.Q.GetMunicipalitiesForProvince)
}

func (h *Handlers) list(w http.ResponseWriter, r *http.Request, fetch func(context.Context, int64, string) ([]domain.Destination, error)) {
	lang := chi.URLParam(r, "lang")
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeProblem(w, http.StatusBadRequest, "Invalid ID", "id must be a positive number")
		return
	}
	items, err := fetch(r.Context(), id, lang)
	if err != nil {
		writeReadError(w, err, "parent not found")
		return
	}
	if items == nil {
		items = []domain.Destination{}
	}
	writeCached(w, r, lang, listResponse{Language: lang, ParentID: id, Items: items})
}
