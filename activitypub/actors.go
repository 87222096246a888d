package activitypub

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/deemkeen/fedgate/cache"
	"github.com/deemkeen/fedgate/domain"
	"github.com/deemkeen/fedgate/util"
)

const remoteActorTTL = 24 * time.Hour

// maxActorDocument bounds the size of fetched actor documents.
const maxActorDocument = 1 << 20

// ActorResponse represents the JSON structure of an ActivityPub actor
type ActorResponse struct {
	Context           interface{} `json:"@context"`
	ID                string      `json:"id"`
	Type              string      `json:"type"`
	PreferredUsername string      `json:"preferredUsername"`
	Name              string      `json:"name"`
	Summary           string      `json:"summary"`
	Inbox             string      `json:"inbox"`
	Outbox            string      `json:"outbox"`
	Endpoints         struct {
		SharedInbox string `json:"sharedInbox"`
	} `json:"endpoints"`
	PublicKey struct {
		ID           string `json:"id"`
		Owner        string `json:"owner"`
		PublicKeyPem string `json:"publicKeyPem"`
	} `json:"publicKey"`
}

// RemoteActors resolves actor documents of other servers, keeping them in
// the cache for a day.
type RemoteActors struct {
	client *http.Client
	cache  cache.Cache
}

func NewRemoteActors(client *http.Client, c cache.Cache) *RemoteActors {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &RemoteActors{client: client, cache: c}
}

// Get returns the actor document of actorURI from the cache, fetching it
// when missing or expired.
func (r *RemoteActors) Get(ctx context.Context, actorURI string) (*domain.RemoteActor, error) {
	return cache.GetOrCompute(ctx, r.cache, cache.RemoteActorKey(actorURI), remoteActorTTL,
		func(ctx context.Context) (*domain.RemoteActor, error) {
			return r.Fetch(ctx, actorURI)
		})
}

// Fetch retrieves an actor document, bypassing the cache.
func (r *RemoteActors) Fetch(ctx context.Context, actorURI string) (*domain.RemoteActor, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, actorURI, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/activity+json")
	req.Header.Set("User-Agent", util.UserAgent())

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w: %w", domain.ErrTransient, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return nil, fmt.Errorf("actor %s: %w", actorURI, domain.ErrNotFound)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("actor fetch failed with status %d: %w", resp.StatusCode, domain.ErrTransient)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxActorDocument))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var actor ActorResponse
	if err := json.Unmarshal(body, &actor); err != nil {
		return nil, fmt.Errorf("failed to parse actor JSON: %w", err)
	}

	if actor.ID == "" || actor.Inbox == "" || actor.PublicKey.PublicKeyPem == "" {
		return nil, fmt.Errorf("actor missing required fields")
	}

	domainName, err := extractDomain(actor.ID)
	if err != nil {
		return nil, err
	}

	username := actor.PreferredUsername
	if username == "" {
		username = extractUsername(actor.ID)
	}

	return &domain.RemoteActor{
		ActorURI:       actor.ID,
		Username:       username,
		Domain:         domainName,
		DisplayName:    actor.Name,
		InboxURI:       actor.Inbox,
		SharedInboxURI: actor.Endpoints.SharedInbox,
		PublicKeyID:    actor.PublicKey.ID,
		PublicKeyPem:   actor.PublicKey.PublicKeyPem,
		LastFetchedAt:  time.Now().UTC(),
	}, nil
}

// extractDomain extracts the domain from an actor URI
// Example: "https://mastodon.social/users/alice" -> "mastodon.social"
func extractDomain(actorURI string) (string, error) {
	parsed, err := url.Parse(actorURI)
	if err != nil {
		return "", fmt.Errorf("invalid actor URI: %w", err)
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("invalid actor URI: %s", actorURI)
	}
	return parsed.Host, nil
}

// extractUsername extracts username from various URI formats
// Examples:
// - "https://example.com/users/alice" -> "alice"
// - "https://example.com/@alice" -> "alice"
func extractUsername(uri string) string {
	uri = strings.TrimRight(uri, "/")
	parts := strings.Split(uri, "/")
	return strings.TrimPrefix(parts[len(parts)-1], "@")
}
