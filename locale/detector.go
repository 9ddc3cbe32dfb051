package locale

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

const defaultGeoURL = "http://ip-api.com/json/"

// DetectorConfig configures a Detector.
type DetectorConfig struct {
	// BaseURL is the ip-api style endpoint; the IP is appended to it.
	BaseURL string
	// Timeout bounds each lookup. Zero means 3s.
	Timeout time.Duration
	// DevCountryCode answers lookups for private and loopback addresses.
	DevCountryCode string
	HTTPClient     *http.Client
	Logger         *zap.Logger
}

// Detector resolves client IPs to languages.
type Detector struct {
	baseURL    string
	devCountry string
	timeout    time.Duration
	client     *http.Client
	logger     *zap.Logger
}

// NewDetector returns a detector using cfg.
func NewDetector(cfg DetectorConfig) *Detector {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultGeoURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Detector{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/") + "/",
		devCountry: strings.ToUpper(strings.TrimSpace(cfg.DevCountryCode)),
		timeout:    cfg.Timeout,
		client:     cfg.HTTPClient,
		logger:     cfg.Logger,
	}
}

// Detect returns the language for ip, or English when it cannot tell.
func (d *Detector) Detect(ctx context.Context, ip string) Language {
	cc, err := d.CountryCode(ctx, ip)
	if err != nil {
		d.logger.Debug("language detection failed", zap.Error(err))
		return English
	}
	return ForCountry(cc)
}

type geoResponse struct {
	Status      string `json:"status"`
	Message     string `json:"message"`
	CountryCode string `json:"countryCode"`
}

// CountryCode looks up the country of ip. Private addresses resolve only
// through DevCountryCode.
func (d *Detector) CountryCode(ctx context.Context, ip string) (string, error) {
	ip = strings.TrimSpace(ip)
	if ip == "" || IsPrivateIP(ip) {
		if d.devCountry != "" {
			return d.devCountry, nil
		}
		return "", fmt.Errorf("no public address")
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	endpoint := d.baseURL + url.PathEscape(ip) + "?fields=status,message,countryCode"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		// The url.Error carries the address being looked up.
		var ue *url.Error
		if errors.As(err, &ue) {
			err = ue.Err
		}
		return "", fmt.Errorf("geolocation request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("geolocation returned %d", resp.StatusCode)
	}

	var body geoResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", err
	}
	if body.Status == "fail" {
		return "", fmt.Errorf("geolocation failed: %s", body.Message)
	}
	if body.CountryCode == "" {
		return "", fmt.Errorf("geolocation returned no country")
	}
	return body.CountryCode, nil
}

var privatePrefixes = []netip.Prefix{
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("169.254.0.0/16"),
}

// IsPrivateIP reports loopback, link-local and RFC 1918 addresses.
// Unparseable input other than "localhost" is not private.
func IsPrivateIP(ip string) bool {
	if ip == "localhost" {
		return true
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	if addr.IsLoopback() {
		return true
	}
	for _, p := range privatePrefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
