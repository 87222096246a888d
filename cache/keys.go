package cache

import "strings"

// Redis key helpers
//
// Every cache key is built here so that invalidation sets can be checked by
// construction instead of by string convention at call sites.
//
// Key pattern: fedgate:{entity}:{id}[:{qualifier}]

const keyPrefix = "fedgate"

// Entity names the kind of fact a key caches.
type Entity string

const (
	EntityActor          Entity = "actor"
	EntityFollowers      Entity = "followers"
	EntityFollowersCount Entity = "followers_count"
	EntityFollowing      Entity = "following"
	EntityFollowingCount Entity = "following_count"
	EntityActivities     Entity = "activities"
	EntityRemoteActor    Entity = "remote_actor"
	EntityRateLimit      Entity = "ratelimit"
)

// Key is a structured cache key.
type Key struct {
	Entity    Entity
	ID        string
	Qualifier string
}

// String renders the key as stored in Redis.
func (k Key) String() string {
	var b strings.Builder
	b.WriteString(keyPrefix)
	b.WriteByte(':')
	b.WriteString(string(k.Entity))
	b.WriteByte(':')
	b.WriteString(k.ID)
	if k.Qualifier != "" {
		b.WriteByte(':')
		b.WriteString(k.Qualifier)
	}
	return b.String()
}

// ActorKey caches the merged actor document of a local identifier.
// Pattern: fedgate:actor:{identifier}
func ActorKey(identifier string) Key {
	return Key{Entity: EntityActor, ID: identifier}
}

// FollowersKey caches the follower URI set of a followed actor.
// Pattern: fedgate:followers:{identifier}
func FollowersKey(identifier string) Key {
	return Key{Entity: EntityFollowers, ID: identifier}
}

// FollowersCountKey pattern: fedgate:followers_count:{identifier}
func FollowersCountKey(identifier string) Key {
	return Key{Entity: EntityFollowersCount, ID: identifier}
}

// FollowingKey caches the set of actors a follower URI follows.
// Pattern: fedgate:following:{followerURI}
func FollowingKey(followerURI string) Key {
	return Key{Entity: EntityFollowing, ID: followerURI}
}

// FollowingCountKey pattern: fedgate:following_count:{followerURI}
func FollowingCountKey(followerURI string) Key {
	return Key{Entity: EntityFollowingCount, ID: followerURI}
}

// ActivitiesKey caches the ordered ledger of an actor.
// Pattern: fedgate:activities:{identifier}
func ActivitiesKey(identifier string) Key {
	return Key{Entity: EntityActivities, ID: identifier}
}

// RemoteActorKey caches a fetched remote actor document.
// Pattern: fedgate:remote_actor:{actorURI}
func RemoteActorKey(actorURI string) Key {
	return Key{Entity: EntityRemoteActor, ID: actorURI}
}

// RateLimitKey holds the fixed-window counter of one client for one operation.
// Pattern: fedgate:ratelimit:{operation}:{client}
func RateLimitKey(operation, client string) Key {
	return Key{Entity: EntityRateLimit, ID: operation, Qualifier: client}
}

// FollowerGraphKeys returns every key that may go stale when the followers
// of a followed actor change. followed is a local identifier or, for edges
// pointing at remote actors, an actor URI; only local identifiers own an
// actor document, but deleting a missing key is harmless.
func FollowerGraphKeys(followed string) []Key {
	return []Key{
		FollowersKey(followed),
		FollowersCountKey(followed),
		ActorKey(followed),
	}
}

// FollowingGraphKeys returns every key that may go stale when a follower
// starts or stops following someone. localIdentifier is empty when the
// follower is remote.
func FollowingGraphKeys(followerURI, localIdentifier string) []Key {
	keys := []Key{
		FollowingKey(followerURI),
		FollowingCountKey(followerURI),
	}
	if localIdentifier != "" {
		keys = append(keys, ActorKey(localIdentifier))
	}
	return keys
}
