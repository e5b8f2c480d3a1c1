// Package geocode proxies reverse geocoding lookups to a Nominatim server.
package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"afr.dev/console/internal/gps/fix"
	"afr.dev/console/internal/util"
)

const (
	DefaultBaseURL = "https://nominatim.openstreetmap.org"
	DefaultTimeout = 10 * time.Second
	user_agent     = "FireBotDashboard/1.0 (+localhost)"
	reply_grace    = 5 * time.Second
)

var (
	ErrUpstream = errors.New("reverse geocoding upstream error")
	ErrTimeout  = errors.New("reverse geocoding timed out")
)

type GeocodeConfig struct {
	BaseURL string
	Timeout time.Duration
}

// Place is the reply relayed to the dashboard. Both fields are passed
// through from the upstream document as they are.
type Place struct {
	DisplayName json.RawMessage `json:"displayName,omitempty"`
	Address     json.RawMessage `json:"address"`
}

type nominatim_reply struct {
	DisplayName json.RawMessage `json:"display_name"`
	Address     json.RawMessage `json:"address"`
}

type Client struct {
	base   string
	http   *http.Client
	logger zerolog.Logger
}

func NewClient(config *GeocodeConfig) *Client {
	if config == nil {
		config = &GeocodeConfig{}
	}
	c := &Client{base: strings.TrimRight(config.BaseURL, "/")}
	if c.base == "" {
		c.base = DefaultBaseURL
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c.http = &http.Client{Timeout: timeout}
	c.logger = log.With().Str("module", "geocode").Logger()
	return c
}

// Reverse looks up the place at lat,lng. Upstream status failures wrap
// ErrUpstream, timeouts wrap ErrTimeout.
func (c *Client) Reverse(ctx context.Context, lat, lng float64) (*Place, error) {
	q := url.Values{}
	q.Set("format", "jsonv2")
	q.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	q.Set("lon", strconv.FormatFloat(lng, 'f', -1, 64))
	q.Set("addressdetails", "1")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/reverse?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", user_agent)
	req.Header.Set("Accept", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		var ne net.Error
		if (errors.As(err, &ne) && ne.Timeout()) || errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return nil, err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, fmt.Errorf("%w: status %d", ErrUpstream, res.StatusCode)
	}
	reply := nominatim_reply{}
	if err := json.NewDecoder(res.Body).Decode(&reply); err != nil {
		return nil, fmt.Errorf("decode reply: %w", err)
	}
	p := &Place{DisplayName: reply.DisplayName, Address: reply.Address}
	if len(p.Address) == 0 {
		p.Address = json.RawMessage("null")
	}
	return p, nil
}

type query struct {
	Lat fix.Number `validate:"finite"`
	Lng fix.Number `validate:"finite"`
}

type Handler struct {
	client *Client
	vld    *validator.Validate
}

func NewHandler(client *Client, vld *validator.Validate) *Handler {
	if vld == nil {
		vld = fix.NewValidator()
	}
	return &Handler{client: client, vld: vld}
}

// KeepDeadline moves the write deadline past the upstream timeout so a 504
// still reaches the caller. It must wrap any middleware that replaces the
// ResponseWriter.
func (h *Handler) KeepDeadline(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.extend(w)
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) extend(w http.ResponseWriter) {
	err := http.NewResponseController(w).SetWriteDeadline(time.Now().Add(h.client.http.Timeout + reply_grace))
	if err != nil && !errors.Is(err, http.ErrNotSupported) {
		h.client.logger.Debug().Err(err).Msg("write deadline not extended")
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.extend(w)
	q := query{Lat: param(r, "lat"), Lng: param(r, "lng")}
	if err := h.vld.Struct(&q); err != nil {
		util.JsonError(w, http.StatusBadRequest, fix.ErrInvalid.Error())
		return
	}
	p, err := h.client.Reverse(r.Context(), q.Lat.Value, q.Lng.Value)
	switch {
	case err == nil:
		util.JsonWrite(w, p)
	case errors.Is(err, ErrUpstream):
		h.client.logger.Warn().Err(err).Msg("upstream rejected lookup")
		util.JsonError(w, http.StatusBadGateway, ErrUpstream.Error())
	case errors.Is(err, ErrTimeout):
		h.client.logger.Warn().Err(err).Msg("upstream timed out")
		util.JsonError(w, http.StatusGatewayTimeout, ErrTimeout.Error())
	default:
		h.client.logger.Error().Err(err).Msg("lookup failed")
		util.JsonError(w, http.StatusInternalServerError, err.Error())
	}
}

func param(r *http.Request, key string) fix.Number {
	v, err := strconv.ParseFloat(strings.TrimSpace(r.URL.Query().Get(key)), 64)
	if err != nil {
		return fix.Number{}
	}
	return fix.Num(v)
}
