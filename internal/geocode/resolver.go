package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Sentinel addresses. They are valid address values downstream.
const (
	SentinelNoNetwork    = "Network unavailable"
	SentinelHTTPFailure  = "HTTP request failed"
	SentinelParseFailure = "Address parse failed"
	SentinelNoResults    = "No address found"
)

// IsSentinel reports whether address is one of the failure sentinels.
func IsSentinel(address string) bool {
	switch address {
	case SentinelNoNetwork, SentinelHTTPFailure, SentinelParseFailure, SentinelNoResults:
		return true
	}
	return false
}

// maxResponseBytes bounds the geocoder response body.
const maxResponseBytes = 1 << 20

// AddressResolver resolves coordinates to an address or a sentinel.
type AddressResolver interface {
	Resolve(ctx context.Context, lat, lon float64) string
}

// Logger defines the logging interface used by this package.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// NetworkChecker reports whether the device currently has network access.
type NetworkChecker interface {
	Online() bool
}

// NetworkCheckerFunc adapts a function to NetworkChecker.
type NetworkCheckerFunc func() bool

// Online implements NetworkChecker.
func (f NetworkCheckerFunc) Online() bool { return f() }

// InterfaceChecker considers the device online when any non-loopback
// interface is up and has at least one address.
type InterfaceChecker struct{}

// Online implements NetworkChecker.
func (InterfaceChecker) Online() bool {
	ifaces, err := net.Interfaces()
	if err != nil {
		return false
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err == nil && len(addrs) > 0 {
			return true
		}
	}
	return false
}

// Options configures a Resolver.
type Options struct {
	// URL is the geocoding endpoint, e.g.
	// https://maps.googleapis.com/maps/api/geocode/json
	URL string

	// APIKey is sent as the "key" query parameter.
	APIKey string

	// Timeout bounds each request. Zero means no timeout.
	Timeout time.Duration

	// Checker gates requests on network availability. Nil uses InterfaceChecker.
	Checker NetworkChecker

	// HTTPClient overrides the client. Nil builds one from Timeout.
	HTTPClient *http.Client

	Logger Logger
}

// Resolver is the synchronous geocoding client.
type Resolver struct {
	endpoint string
	apiKey   string
	client   *http.Client
	checker  NetworkChecker
	logger   Logger
}

// NewResolver creates a Resolver.
func NewResolver(opts Options) *Resolver {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	checker := opts.Checker
	if checker == nil {
		checker = InterfaceChecker{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	return &Resolver{
		endpoint: opts.URL,
		apiKey:   opts.APIKey,
		client:   client,
		checker:  checker,
		logger:   logger,
	}
}

// geocodeResponse is the subset of the response the resolver reads.
type geocodeResponse struct {
	Results []struct {
		FormattedAddress string `json:"formatted_address"`
	} `json:"results"`
	Status string `json:"status"`
}

// Resolve looks up the address for lat/lon.
//
// Returns the first result's formatted address, or a sentinel on failure.
func (r *Resolver) Resolve(ctx context.Context, lat, lon float64) string {
	if !r.checker.Online() {
		r.logger.Warn("geocode skipped, network unavailable")
		return SentinelNoNetwork
	}

	reqURL, err := r.buildURL(lat, lon)
	if err != nil {
		r.logger.Warn("geocode url invalid", "error", err)
		return SentinelHTTPFailure
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		r.logger.Warn("geocode request invalid", "error", err)
		return SentinelHTTPFailure
	}

	resp, err := r.client.Do(req)
	if err != nil {
		r.logger.Warn("geocode request failed", "error", err)
		return SentinelHTTPFailure
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		r.logger.Warn("geocode request failed", "status", resp.StatusCode)
		return SentinelHTTPFailure
	}

	var body geocodeResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&body); err != nil {
		r.logger.Warn("geocode response unparseable", "error", err)
		return SentinelParseFailure
	}

	if len(body.Results) == 0 {
		r.logger.Debug("geocode returned no results", "status", body.Status)
		return SentinelNoResults
	}

	return body.Results[0].FormattedAddress
}

// buildURL appends latlng and key to the endpoint.
func (r *Resolver) buildURL(lat, lon float64) (string, error) {
	u, err := url.Parse(r.endpoint)
	if err != nil {
		return "", fmt.Errorf("parsing geocoder url: %w", err)
	}
	q := u.Query()
	q.Set("latlng", strconv.FormatFloat(lat, 'f', 6, 64)+","+strconv.FormatFloat(lon, 'f', 6, 64))
	if r.apiKey != "" {
		q.Set("key", r.apiKey)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// CoordinateResolver formats the coordinates themselves as the address.
// Used when reverse geocoding is disabled so telemetry still flows.
type CoordinateResolver struct{}

// Resolve implements AddressResolver.
func (CoordinateResolver) Resolve(_ context.Context, lat, lon float64) string {
	return strconv.FormatFloat(lat, 'f', 6, 64) + "," + strconv.FormatFloat(lon, 'f', 6, 64)
}
