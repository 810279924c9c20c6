package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

// rawEvent is one entry of the GitHub events API response. The payload
// shape depends on Type and is read lazily.
type rawEvent struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Actor   actor           `json:"actor"`
	Repo    repo            `json:"repo"`
	Payload json.RawMessage `json:"payload"`
}

type actor struct {
	ID           int64  `json:"id"`
	URL          string `json:"url"`
	AvatarURL    string `json:"avatar_url"`
	DisplayLogin string `json:"display_login"`
}

type repo struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	URL  string `json:"url"`
}

// clientEvent is what viewers receive, with every URL pointing at the
// GitHub web UI instead of the API.
type clientEvent struct {
	Type        string `json:"type"`
	Actor       actor  `json:"actor"`
	Repo        repo   `json:"repo"`
	EventURL    string `json:"event_url"`
	Action      string `json:"action"`
	CommitsSize int64  `json:"commits_size"`
}

const avatarSize = "64"

var (
	botMarkers = []string{"github-actions", "bot", "codecov"}

	repoURLs   = strings.NewReplacer("/api.github", "/github", "/repos/", "/")
	actorURLs  = strings.NewReplacer("/api.github", "/github", "/users/", "/")
	commitURLs = strings.NewReplacer("/api.github", "/github", "/repos/", "/", "/commits/", "/commit/")
	pullURLs   = strings.NewReplacer("/api.github", "/github", "/repos/", "/", "/pulls/", "/pull/")
)

// cleanEvents turns a batch of raw events into the JSON document sent to
// viewers. Events from bots, of unsupported types, or with payloads missing
// the fields we need are skipped one by one. ok is false when nothing
// survives, in which case there is nothing to publish.
func cleanEvents(events []rawEvent) (msg string, ok bool, err error) {
	cleaned := make([]clientEvent, 0, len(events))
	for _, e := range events {
		if isBot(e.Actor.DisplayLogin) {
			continue
		}
		ce, keep := cleanEvent(e)
		if !keep {
			logrus.WithFields(logrus.Fields{"id": e.ID, "type": e.Type}).Debug("skipping event")
			continue
		}
		cleaned = append(cleaned, ce)
	}
	if len(cleaned) == 0 {
		return "", false, nil
	}

	data, err := json.Marshal(cleaned)
	if err != nil {
		return "", false, fmt.Errorf("encode events: %w", err)
	}
	return string(data), true, nil
}

func cleanEvent(e rawEvent) (clientEvent, bool) {
	if !gjson.ValidBytes(e.Payload) {
		return clientEvent{}, false
	}
	p := gjson.ParseBytes(e.Payload)

	ce := clientEvent{
		Type:  e.Type,
		Actor: e.Actor,
		Repo:  e.Repo,
	}
	ce.Repo.URL = repoURLs.Replace(e.Repo.URL)
	ce.Actor.URL = actorURLs.Replace(e.Actor.URL)
	ce.Actor.AvatarURL = withAvatarSize(e.Actor.AvatarURL)

	switch e.Type {
	case "PushEvent":
		size := p.Get("size")
		if !size.Exists() {
			return clientEvent{}, false
		}
		ce.CommitsSize = size.Int()
		if commit := p.Get("commits.0.url"); commit.Exists() {
			ce.EventURL = commitURLs.Replace(commit.String())
		}

	case "PullRequestEvent":
		action, pull := p.Get("action"), p.Get("pull_request.url")
		if !action.Exists() || !pull.Exists() {
			return clientEvent{}, false
		}
		ce.Action = action.String()
		ce.EventURL = pullURLs.Replace(pull.String())

	case "IssueCommentEvent":
		link := p.Get("comment.html_url")
		if !link.Exists() {
			return clientEvent{}, false
		}
		ce.Action = "commented"
		ce.EventURL = link.String()

	case "IssuesEvent":
		action, link := p.Get("action"), p.Get("issue.html_url")
		if !action.Exists() || !link.Exists() {
			return clientEvent{}, false
		}
		ce.Action = action.String()
		ce.EventURL = link.String()

	default:
		return clientEvent{}, false
	}
	return ce, true
}

func isBot(login string) bool {
	login = strings.ToLower(login)
	for _, marker := range botMarkers {
		if strings.Contains(login, marker) {
			return true
		}
	}
	return false
}

// withAvatarSize asks the avatar CDN for a small image.
func withAvatarSize(avatar string) string {
	u, err := url.Parse(avatar)
	if err != nil || avatar == "" {
		return avatar
	}
	q := u.Query()
	q.Set("s", avatarSize)
	u.RawQuery = q.Encode()
	u.ForceQuery = false
	return u.String()
}
