package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"thebestitaly/internal/domain"
)

type fakeReader struct {
	dest    *domain.Destination
	list    []domain.Destination
	err     error
	gotLang string
	gotID   int64
	gotTyp  domain.DestinationType
}

func (f *fakeReader) GetDestinationDetails(ctx context.Context, identifier, lang string, typ domain.DestinationType) (*domain.Destination, error) {
	f.gotLang, f.gotTyp = lang, typ
	return f.dest, f.err
}

func (f *fakeReader) GetProvincesForRegion(ctx context.Context, regionID int64, lang string) ([]domain.Destination, error) {
	f.gotLang, f.gotID = lang, regionID
	return f.list, f.err
}

func (f *fakeReader) GetMunicipalitiesForProvince(ctx context.Context, provinceID int64, lang string) ([]domain.Destination, error) {
	f.gotLang, f.gotID = lang, provinceID
	return f.list, f.err
}

func newPublic(r Reader) http.Handler {
	s := New()
	s.MountHandlers(&Handlers{Q: r})
	return s.Mux()
}

func do(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestGetDestination_OKAndETag(t *testing.T) {
	fr := &fakeReader{dest: &domain.Destination{ID: 1, Type: domain.TypeRegion, Translations: map[string]domain.Translation{"it": {Name: "Lazio", Slug: "lazio"}}}}
	h := newPublic(fr)

	rr := do(h, httptest.NewRequest(http.MethodGet, "/v1/it/destinations/region/lazio", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rr.Code, rr.Body.String())
	}
	if fr.gotLang != "it" || fr.gotTyp != domain.TypeRegion {
		t.Fatalf("reader called with %q %q", fr.gotLang, fr.gotTyp)
	}
	if rr.Header().Get("Content-Language") != "it" {
		t.Fatalf("Content-Language %q", rr.Header().Get("Content-Language"))
	}
	etag := rr.Header().Get("ETag")
	if !strings.HasPrefix(etag, `W/"`) {
		t.Fatalf("etag %q", etag)
	}
	var got domain.Destination
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil || got.ID != 1 {
		t.Fatalf("body %s: %v", rr.Body.String(), err)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/it/destinations/region/lazio", nil)
	req.Header.Set("If-None-Match", etag)
	if rr := do(h, req); rr.Code != http.StatusNotModified || rr.Body.Len() != 0 {
		t.Fatalf("conditional GET: %d %q", rr.Code, rr.Body.String())
	}
}

func TestGetDestination_Errors(t *testing.T) {
	cases := []struct {
		name   string
		path   string
		err    error
		status int
	}{
		{"not found", "/v1/it/destinations/region/atlantide", domain.ErrNotFound, http.StatusNotFound},
		{"bad type", "/v1/it/destinations/country/italia", nil, http.StatusBadRequest},
		{"unsupported language", "/v1/xx/destinations/region/lazio", nil, http.StatusNotFound},
		{"timeout", "/v1/en/destinations/region/lazio", context.DeadlineExceeded, http.StatusServiceUnavailable},
		{"other", "/v1/en/destinations/region/lazio", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := do(newPublic(&fakeReader{err: tc.err}), httptest.NewRequest(http.MethodGet, tc.path, nil))
			if rr.Code != tc.status {
				t.Fatalf("status %d, want %d", rr.Code, tc.status)
			}
			if ct := rr.Header().Get("Content-Type"); ct != "application/problem+json" {
				t.Fatalf("content type %q", ct)
			}
			var p problem
			if err := json.Unmarshal(rr.Body.Bytes(), &p); err != nil || p.Status != tc.status {
				t.Fatalf("problem body %s", rr.Body.String())
			}
		})
	}
}

func TestLists(t *testing.T) {
	fr := &fakeReader{}
	h := newPublic(fr)

	rr := do(h, httptest.NewRequest(http.MethodGet, "/v1/en/regions/7/provinces", nil))
	if rr.Code != http.StatusOK || fr.gotID != 7 || fr.gotLang != "en" {
		t.Fatalf("provinces: %d id=%d lang=%s", rr.Code, fr.gotID, fr.gotLang)
	}
	var body listResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Items == nil || len(body.Items) != 0 || body.ParentID != 7 {
		t.Fatalf("empty list rendered as %s", rr.Body.String())
	}

	fr.list = []domain.Destination{{ID: 100, Type: domain.TypeMunicipality}}
	rr = do(h, httptest.NewRequest(http.MethodGet, "/v1/zh-tw/provinces/10/municipalities", nil))
	if rr.Code != http.StatusOK || fr.gotID != 10 || fr.gotLang != "zh-tw" {
		t.Fatalf("municipalities: %d", rr.Code)
	}

	if rr := do(h, httptest.NewRequest(http.MethodGet, "/v1/en/regions/abc/provinces", nil)); rr.Code != http.StatusBadRequest {
		t.Fatalf("bad id: %d", rr.Code)
	}
}

func TestRedirectToNegotiatedLanguage(t *testing.T) {
	h := newPublic(&fakeReader{})
	req := httptest.NewRequest(http.MethodGet, "/v1/destinations/region/toscana?x=1", nil)
	req.Header.Set("Accept-Language", "de-CH,de;q=0.9,en;q=0.5")

	rr := do(h, req)
	if rr.Code != http.StatusFound {
		t.Fatalf("status %d", rr.Code)
	}
	if loc := rr.Header().Get("Location"); loc != "/v1/de/destinations/region/toscana?x=1" {
		t.Fatalf("location %q", loc)
	}

	rr = do(h, httptest.NewRequest(http.MethodGet, "/v1/destinations/region/toscana", nil))
	if loc := rr.Header().Get("Location"); loc != "/v1/it/destinations/region/toscana" {
		t.Fatalf("default location %q", loc)
	}
}

func TestHealthz(t *testing.T) {
	rr := do(New().Mux(), httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK || rr.Body.String() != "ok" {
		t.Fatalf("healthz %d %q", rr.Code, rr.Body.String())
	}
}
