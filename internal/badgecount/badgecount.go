// Package badgecount looks up how many annotations the service holds for a
// page.
package badgecount

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var (
	ErrBlockedProtocol = errors.New("blocked protocol")
	ErrBlockedHostname = errors.New("blocked hostname")
	// ErrParse is returned when the service answers without a numeric total.
	ErrParse = errors.New("unable to parse badge response")
)

var allowedSchemes = map[string]bool{"http": true, "https": true}

// Personal sites with high traffic whose URLs do not identify content.
var blockedHostnames = map[string]bool{
	"facebook.com":     true,
	"www.facebook.com": true,
	"mail.google.com":  true,
}

// ShouldQueryURI decides whether uri may be sent to the badge endpoint and
// returns it without its fragment.
func ShouldQueryURI(uri string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("parse %q: %w", uri, err)
	}
	if !allowedSchemes[strings.ToLower(u.Scheme)] {
		return "", fmt.Errorf("%w: %q", ErrBlockedProtocol, u.Scheme)
	}
	if blockedHostnames[strings.ToLower(u.Hostname())] {
		return "", fmt.Errorf("%w: %q", ErrBlockedHostname, u.Hostname())
	}
	u.Fragment = ""
	u.RawFragment = ""
	return u.String(), nil
}

// maxTotal bounds the count accepted from the service.
const maxTotal = math.MaxInt32

// IsBlocked reports whether err means the URL was never sent.
func IsBlocked(err error) bool {
	return errors.Is(err, ErrBlockedProtocol) || errors.Is(err, ErrBlockedHostname)
}

// Fetcher queries the badge endpoint of the annotation service.
type Fetcher struct {
	APIURL string
	Client *http.Client
}

// NewFetcher returns a Fetcher for the service at apiURL.
func NewFetcher(apiURL string, timeout time.Duration) *Fetcher {
	return &Fetcher{
		APIURL: strings.TrimRight(apiURL, "/"),
		Client: &http.Client{Timeout: timeout},
	}
}

type badgeResponse struct {
	Total json.RawMessage `json:"total"`
}

// FetchCount returns the number of annotations for uri.
func (f *Fetcher) FetchCount(ctx context.Context, uri string) (int, error) {
	target, err := ShouldQueryURI(uri)
	if err != nil {
		return 0, err
	}

	endpoint := f.APIURL + "/badge?uri=" + url.QueryEscape(target)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, fmt.Errorf("fetch count for %s: %w", target, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.Client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("fetch count for %s: %w", target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return 0, fmt.Errorf("fetch count for %s: HTTP %d", target, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return 0, fmt.Errorf("read badge response: %w", err)
	}
	return parseTotal(body)
}

func parseTotal(body []byte) (int, error) {
	var br badgeResponse
	if err := json.Unmarshal(body, &br); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrParse, err)
	}
	var total float64
	if len(br.Total) == 0 || string(br.Total) == "null" || json.Unmarshal(br.Total, &total) != nil {
		return 0, ErrParse
	}
	if total < 0 || total > maxTotal {
		return 0, fmt.Errorf("%w: total %v out of range", ErrParse, total)
	}
	return int(total), nil
}
