// internal/adapters/directus/client.go
package directus

import (
	"context"
	crand "crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"thebestitaly/internal/adapters/observability"
	"thebestitaly/internal/domain"
)

var (
	ErrNotFound     = fmt.Errorf("directus: %w", domain.ErrNotFound)
	ErrUnauthorized = fmt.Errorf("directus: %w", domain.ErrUnauthorized)
	ErrForbidden    = fmt.Errorf("directus: %w", domain.ErrForbidden)
)

// listFields is what the snapshot needs from each destination row.
var listFields = []string{
	"id",
	"uuid_id",
	"type",
	"image",
	"lat",
	"long",
	"region_id",
	"province_id",
	"translations.languages_code",
	"translations.destination_name",
	"translations.seo_title",
	"translations.seo_summary",
	"translations.description",
	"translations.slug_permalink",
}

type Client struct {
	base  string
	hc    *http.Client
	token string
	rl    *rate.Limiter
}

func New(base, token string, rps int) (*Client, error) {
	if token == "" {
		return nil, fmt.Errorf("API token is required")
	}
	if rps <= 0 {
		rps = 5
	}
	return &Client{
		base:  strings.TrimRight(base, "/"),
		hc:    &http.Client{Timeout: 30 * time.Second},
		token: token,
		rl:    rate.NewLimiter(rate.Limit(rps), rps),
	}, nil
}

type envelope struct {
	Data []map[string]any `json:"data"`
}

// ---- Public API ----

func (c *Client) ListDestinations(ctx context.Context, q domain.DestinationQuery) ([]map[string]any, error) {
	v := url.Values{}
	if q.Type != "" {
		v.Set("filter[type][_eq]", string(q.Type))
	}
	if q.RegionID != 0 {
		v.Set("filter[region_id][_eq]", strconv.FormatInt(q.RegionID, 10))
	}
	if q.ProvinceID != 0 {
		v.Set("filter[province_id][_eq]", strconv.FormatInt(q.ProvinceID, 10))
	}
	if q.Lang != "" {
		v.Set("deep[translations][_filter][languages_code][_eq]", q.Lang)
	}
	limit := q.Limit
	if limit <= 0 {
		limit = -1
	}
	v.Set("limit", strconv.Itoa(limit))
	v.Set("sort[]", "id")
	for _, f := range listFields {
		v.Add("fields[]", f)
	}

	var out envelope
	if err := c.get(ctx, "destinations", c.base+"/items/destinations?"+v.Encode(), &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

func (c *Client) GetDestinationBySlug(ctx context.Context, slug, lang string, typ domain.DestinationType) (map[string]any, error) {
	v := url.Values{}
	v.Set("filter[translations][slug_permalink][_eq]", slug)
	if typ != "" {
		v.Set("filter[type][_eq]", string(typ))
	}
	v.Set("deep[translations][_filter][languages_code][_eq]", lang)
	v.Set("limit", "1")
	for _, f := range listFields {
		v.Add("fields[]", f)
	}
	return c.first(ctx, "destination_by_slug", c.base+"/items/destinations?"+v.Encode())
}

func (c *Client) GetDestinationByID(ctx context.Context, id int64, lang string) (map[string]any, error) {
	v := url.Values{}
	v.Set("filter[id][_eq]", strconv.FormatInt(id, 10))
	v.Set("deep[translations][_filter][languages_code][_eq]", lang)
	v.Set("limit", "1")
	for _, f := range listFields {
		v.Add("fields[]", f)
	}
	return c.first(ctx, "destination_by_id", c.base+"/items/destinations?"+v.Encode())
}

func (c *Client) ListLanguages(ctx context.Context) ([]map[string]any, error) {
	v := url.Values{}
	v.Add("fields[]", "code")
	v.Add("sort[]", "code")
	var out envelope
	if err := c.get(ctx, "languages", c.base+"/items/languages?"+v.Encode(), &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// ---- Internals ----

// first returns the single row of a filtered listing; an empty listing is a 404.
func (c *Client) first(ctx context.Context, endpoint, u string) (map[string]any, error) {
	var out envelope
	if err := c.get(ctx, endpoint, u, &out); err != nil {
		return nil, err
	}
	if len(out.Data) == 0 {
		return nil, ErrNotFound
	}
	return out.Data[0], nil
}

// get performs a GET with client-side rate limiting, retries, and JSON decode into out.
// Retries on 429 and transient 5xx, honoring Retry-After when provided.
func (c *Client) get(ctx context.Context, endpoint, u string, out any) error {
	if err := c.rl.Wait(ctx); err != nil {
		return err
	}

	start := time.Now()
	status := 0
	defer func() { observability.ObserveExternal("directus", endpoint, status, time.Since(start)) }()

	var lastErr error
	for i := 0; i < 4; i++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", "thebestitaly-destinations/1.0")

		resp, err := c.hc.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = err
			if i < 3 && sleepCtx(ctx, backoff(i)) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return lastErr
		}
		status = resp.StatusCode

		switch resp.StatusCode {
		case http.StatusOK:
			err := json.NewDecoder(resp.Body).Decode(out)
			resp.Body.Close()
			if err != nil {
				return fmt.Errorf("directus: decode %s: %w", endpoint, err)
			}
			return nil

		case http.StatusNoContent:
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			return nil

		case http.StatusNotFound:
			resp.Body.Close()
			return ErrNotFound

		case http.StatusUnauthorized:
			resp.Body.Close()
			return ErrUnauthorized

		case http.StatusForbidden:
			resp.Body.Close()
			return ErrForbidden

		case http.StatusTooManyRequests, http.StatusInternalServerError,
			http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			wait := retryAfter(resp)
			resp.Body.Close()
			if wait == 0 {
				wait = backoff(i)
			}
			lastErr = fmt.Errorf("directus: remote %d", resp.StatusCode)
			if i < 3 && sleepCtx(ctx, wait) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return lastErr

		default:
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			return fmt.Errorf("directus: bad status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
		}
	}

	if lastErr == nil {
		lastErr = errors.New("directus: retries exhausted")
	}
	return lastErr
}

// sleepCtx waits for d or returns early if ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// retryAfter parses Retry-After header (seconds or HTTP-date). Returns 0 if absent/invalid.
func retryAfter(resp *http.Response) time.Duration {
	h := resp.Header.Get("Retry-After")
	if h == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(h)); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(h); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// backoff doubles from 200ms per attempt with up to +50% jitter.
func backoff(i int) time.Duration {
	base := time.Duration(1<<i) * 200 * time.Millisecond
	var b [1]byte
	if _, err := crand.Read(b[:]); err != nil {
		return base
	}
	f := float64(b[0]) / 255.0
	return base + time.Duration(0.5*f*float64(base))
}
