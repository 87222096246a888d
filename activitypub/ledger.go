package activitypub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/deemkeen/fedgate/cache"
	"github.com/deemkeen/fedgate/db"
	"github.com/deemkeen/fedgate/domain"
	"github.com/google/uuid"
)

const (
	activitiesTTL = 60 * time.Second
	graphTTL      = 600 * time.Second
)

// Store key layout of the ledger.
const (
	ledgerPrefix    = "LEDGER#"
	activityPrefix  = "ACTIVITY#"
	objectPrefix    = "OBJECT#"
	followersPrefix = "FOLLOWERS#"
	followingPrefix = "FOLLOWING#"
)

// Ledger is the append-only activity log of every local actor plus the
// follow graph derived from it.
type Ledger struct {
	store db.Store
	cache cache.Cache
	links Links
}

func NewLedger(store db.Store, c cache.Cache, links Links) *Ledger {
	return &Ledger{store: store, cache: c, links: links}
}

// Append inserts a into the ledger of a.Owner. It never deduplicates;
// appending the same activity twice yields two records.
func (l *Ledger) Append(ctx context.Context, a *domain.Activity) error {
	if a.ID == "" || a.Owner == "" || !a.Type.Valid() {
		return fmt.Errorf("%w: ledger record needs id, owner and a supported type", domain.ErrInvalidActivity)
	}
	if a.PublishedAt.IsZero() {
		a.PublishedAt = time.Now().UTC()
	}

	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to marshal activity: %w", err)
	}

	sk := fmt.Sprintf("%020d#%s", a.PublishedAt.UnixNano(), uuid.New().String())
	item := &db.Item{
		PK:     ledgerPrefix + a.Owner,
		SK:     sk,
		GSI2PK: activityPrefix + a.ID,
		GSI2SK: sk,
		Data:   data,
	}
	if a.ObjectURI != "" {
		item.GSI1PK = objectIndexKey(a.Type, a.ObjectURI)
		item.GSI1SK = sk
	}

	if err := l.store.Put(ctx, item); err != nil {
		return fmt.Errorf("failed to append %s: %w", a.ID, err)
	}
	cache.Invalidate(ctx, l.cache, cache.ActivitiesKey(a.Owner))
	return nil
}

// ActivitiesForActor returns the ledger of identifier, newest first. Two
// records with the same timestamp are ordered by insertion, the later one
// first.
func (l *Ledger) ActivitiesForActor(ctx context.Context, identifier string) ([]domain.Activity, error) {
	return cache.GetOrCompute(ctx, l.cache, cache.ActivitiesKey(identifier), activitiesTTL,
		func(ctx context.Context) ([]domain.Activity, error) {
			items, err := l.store.Query(ctx, ledgerPrefix+identifier, "")
			if err != nil {
				return nil, fmt.Errorf("failed to read ledger of %s: %w", identifier, err)
			}
			activities, err := decodeActivities(items)
			if err != nil {
				return nil, err
			}
			sort.SliceStable(activities, func(i, j int) bool {
				a, b := activities[i], activities[j]
				if !a.PublishedAt.Equal(b.PublishedAt) {
					return a.PublishedAt.After(b.PublishedAt)
				}
				return a.Seq > b.Seq
			})
			return activities, nil
		})
}

// FindByID returns every ledger record of the activity id, in insertion
// order. An activity delivered to several local actors has one record per
// ledger.
func (l *Ledger) FindByID(ctx context.Context, activityID string) ([]domain.Activity, error) {
	items, err := l.store.QueryIndex(ctx, db.GSI2, activityPrefix+activityID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up activity %s: %w", activityID, err)
	}
	return decodeActivities(items)
}

// FindByObject returns every record of type typ whose object is objectURI.
func (l *Ledger) FindByObject(ctx context.Context, typ domain.ActivityType, objectURI string) ([]domain.Activity, error) {
	items, err := l.store.QueryIndex(ctx, db.GSI1, objectIndexKey(typ, objectURI))
	if err != nil {
		return nil, fmt.Errorf("failed to look up %s of %s: %w", typ, objectURI, err)
	}
	return decodeActivities(items)
}

// UpsertFollowEdge sets the status of the edge from followerURI to
// followed. It is a no-op when the edge already has that status.
func (l *Ledger) UpsertFollowEdge(ctx context.Context, followerURI, followed string, status domain.EdgeStatus, sourceActivityID string) error {
	followerURI, followed = l.normalizeEdge(followerURI, followed)
	now := time.Now().UTC()
	edge := domain.FollowEdge{
		FollowerURI:      followerURI,
		Followed:         followed,
		Status:           status,
		SourceActivityID: sourceActivityID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	existing, err := l.getEdge(ctx, followerURI, followed)
	switch {
	case err == nil:
		if existing.Status == status {
			return nil
		}
		edge.CreatedAt = existing.CreatedAt
	case !errors.Is(err, domain.ErrNotFound):
		return err
	}

	data, err := json.Marshal(edge)
	if err != nil {
		return fmt.Errorf("failed to marshal follow edge: %w", err)
	}
	err = l.store.Put(ctx, &db.Item{
		PK:     followersPrefix + followed,
		SK:     followerURI,
		GSI1PK: followingPrefix + followerURI,
		GSI1SK: followed,
		Data:   data,
	})
	if err != nil {
		return fmt.Errorf("failed to store follow edge %s -> %s: %w", followerURI, followed, err)
	}

	l.invalidateEdge(ctx, followerURI, followed)
	return nil
}

// RemoveFollowEdge deletes the edge from followerURI to followed. Removing
// an edge that does not exist is not an error.
func (l *Ledger) RemoveFollowEdge(ctx context.Context, followerURI, followed string) error {
	followerURI, followed = l.normalizeEdge(followerURI, followed)
	if _, err := l.getEdge(ctx, followerURI, followed); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			log.Printf("Ledger: No follow edge %s -> %s to remove", followerURI, followed)
			return nil
		}
		return err
	}

	if err := l.store.Delete(ctx, followersPrefix+followed, followerURI); err != nil {
		return fmt.Errorf("failed to delete follow edge %s -> %s: %w", followerURI, followed, err)
	}
	l.invalidateEdge(ctx, followerURI, followed)
	return nil
}

// FollowersOf returns the sorted URIs of the accepted followers of
// followed, a local identifier or a remote actor URI.
func (l *Ledger) FollowersOf(ctx context.Context, followed string) ([]string, error) {
	_, followed = l.normalizeEdge("", followed)
	return cache.GetOrCompute(ctx, l.cache, cache.FollowersKey(followed), graphTTL,
		func(ctx context.Context) ([]string, error) {
			items, err := l.store.Query(ctx, followersPrefix+followed, "")
			if err != nil {
				return nil, fmt.Errorf("failed to read followers of %s: %w", followed, err)
			}
			return acceptedEdges(items, func(e domain.FollowEdge) string { return e.FollowerURI })
		})
}

// FollowingOf returns the sorted URIs of the actors identifier follows.
func (l *Ledger) FollowingOf(ctx context.Context, identifier string) ([]string, error) {
	followerURI := l.links.Actor(identifier)
	return cache.GetOrCompute(ctx, l.cache, cache.FollowingKey(followerURI), graphTTL,
		func(ctx context.Context) ([]string, error) {
			items, err := l.store.QueryIndex(ctx, db.GSI1, followingPrefix+followerURI)
			if err != nil {
				return nil, fmt.Errorf("failed to read following of %s: %w", identifier, err)
			}
			return acceptedEdges(items, func(e domain.FollowEdge) string { return l.links.ActorRef(e.Followed) })
		})
}

func (l *Ledger) FollowerCount(ctx context.Context, followed string) (int, error) {
	_, followed = l.normalizeEdge("", followed)
	return cache.GetOrCompute(ctx, l.cache, cache.FollowersCountKey(followed), graphTTL,
		func(ctx context.Context) (int, error) {
			followers, err := l.FollowersOf(ctx, followed)
			return len(followers), err
		})
}

func (l *Ledger) FollowingCount(ctx context.Context, identifier string) (int, error) {
	return cache.GetOrCompute(ctx, l.cache, cache.FollowingCountKey(l.links.Actor(identifier)), graphTTL,
		func(ctx context.Context) (int, error) {
			following, err := l.FollowingOf(ctx, identifier)
			return len(following), err
		})
}

func (l *Ledger) getEdge(ctx context.Context, followerURI, followed string) (*domain.FollowEdge, error) {
	item, err := l.store.Get(ctx, followersPrefix+followed, followerURI)
	if err != nil {
		return nil, err
	}
	var edge domain.FollowEdge
	if err := json.Unmarshal(item.Data, &edge); err != nil {
		return nil, fmt.Errorf("failed to decode follow edge: %w", err)
	}
	return &edge, nil
}

// normalizeEdge stores followers as URIs and local followed actors as
// identifiers, whichever form the caller used.
func (l *Ledger) normalizeEdge(followerURI, followed string) (string, string) {
	if followerURI != "" {
		followerURI = l.links.ActorRef(followerURI)
	}
	if identifier, ok := l.links.LocalActor(followed); ok {
		followed = identifier
	}
	return followerURI, followed
}

func (l *Ledger) invalidateEdge(ctx context.Context, followerURI, followed string) {
	local, _ := l.links.LocalActor(followerURI)
	keys := append(cache.FollowerGraphKeys(followed), cache.FollowingGraphKeys(followerURI, local)...)
	cache.Invalidate(ctx, l.cache, keys...)
}

func objectIndexKey(typ domain.ActivityType, objectURI string) string {
	return objectPrefix + string(typ) + "#" + objectURI
}

func decodeActivities(items []db.Item) ([]domain.Activity, error) {
	activities := make([]domain.Activity, 0, len(items))
	for _, item := range items {
		var a domain.Activity
		if err := json.Unmarshal(item.Data, &a); err != nil {
			return nil, fmt.Errorf("failed to decode activity %s/%s: %w", item.PK, item.SK, err)
		}
		a.Seq = item.Seq
		activities = append(activities, a)
	}
	return activities, nil
}

func acceptedEdges(items []db.Item, ref func(domain.FollowEdge) string) ([]string, error) {
	uris := make([]string, 0, len(items))
	for _, item := range items {
		var edge domain.FollowEdge
		if err := json.Unmarshal(item.Data, &edge); err != nil {
			return nil, fmt.Errorf("failed to decode follow edge: %w", err)
		}
		if edge.Status == domain.EdgeAccepted {
			uris = append(uris, ref(edge))
		}
	}
	sort.Strings(uris)
	return uris, nil
}
