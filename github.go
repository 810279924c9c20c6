package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"
)

const (
	defaultEventsURL = "https://api.github.com/events"
	githubAPIVersion = "2022-11-28"
	userAgent        = "ghrelay (+https://github.com/Automattic/ghrelay)"
	fetchTimeout     = 10 * time.Second
)

var (
	errUnauthorized = errors.New("github: authorization failed")
	errNotModified  = errors.New("github: events not modified")
)

type eventFetcher interface {
	fetchEvents(ctx context.Context) ([]rawEvent, error)
}

// githubClient reads the public events feed. It remembers the last ETag so
// an unchanged feed costs a 304 instead of a full body.
type githubClient struct {
	http    *http.Client
	url     string
	token   string
	perPage int

	mu   sync.Mutex
	etag string
}

func newGithubClient(eventsURL, token string, perPage int) *githubClient {
	if eventsURL == "" {
		eventsURL = defaultEventsURL
	}
	return &githubClient{
		http:    &http.Client{Timeout: fetchTimeout},
		url:     eventsURL,
		token:   token,
		perPage: perPage,
	}
}

func (g *githubClient) fetchEvents(ctx context.Context) ([]rawEvent, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.url, nil)
	if err != nil {
		return nil, fmt.Errorf("github: build request: %w", err)
	}
	if g.perPage > 0 {
		q := req.URL.Query()
		q.Set("per_page", strconv.Itoa(g.perPage))
		req.URL.RawQuery = q.Encode()
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", githubAPIVersion)
	if g.token != "" {
		req.Header.Set("Authorization", "Token "+g.token)
	}
	if etag := g.lastETag(); etag != "" {
		req.Header.Set("If-None-Match", etag)
	}

	resp, err := g.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("github: request events: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotModified:
		return nil, errNotModified
	case http.StatusUnauthorized:
		return nil, errUnauthorized
	default:
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("github: unexpected status %d", resp.StatusCode)
	}

	var events []rawEvent
	if err := json.NewDecoder(resp.Body).Decode(&events); err != nil {
		return nil, fmt.Errorf("github: decode events: %w", err)
	}
	g.setETag(resp.Header.Get("ETag"))
	return events, nil
}

func (g *githubClient) lastETag() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.etag
}

func (g *githubClient) setETag(etag string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.etag = etag
}
