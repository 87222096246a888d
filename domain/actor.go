package domain

import (
	"fmt"
	"time"
)

// Actor is a local actor profile merged with its key pair and graph counts.
// The private key is never serialized, so cached copies and rendered
// documents only ever carry the public half.
type Actor struct {
	Identifier     string    `json:"identifier"`
	DisplayName    string    `json:"displayName"`
	Summary        string    `json:"summary"`
	InboxURI       string    `json:"inbox"`
	OutboxURI      string    `json:"outbox"`
	FollowersURI   string    `json:"followers"`
	FollowingURI   string    `json:"following"`
	PublicKey      string    `json:"publicKey,omitempty"`
	PrivateKey     string    `json:"-"`
	FollowerCount  int       `json:"followerCount"`
	FollowingCount int       `json:"followingCount"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Profile holds the mutable fields of an actor.
type Profile struct {
	DisplayName string `json:"displayName"`
	Summary     string `json:"summary"`
}

// KeyPair is the PEM encoded RSA key pair of a local actor.
type KeyPair struct {
	PublicKeyPem  string    `json:"publicKeyPem"`
	PrivateKeyPem string    `json:"privateKeyPem"`
	CreatedAt     time.Time `json:"createdAt"`
}

// HasKeys reports whether a key pair has been generated for the actor.
func (a *Actor) HasKeys() bool {
	return a.PublicKey != ""
}

// Name returns the display name, falling back to the identifier.
func (a *Actor) Name() string {
	if a.DisplayName == "" {
		return a.Identifier
	}
	return a.DisplayName
}

func (a *Actor) ToString() string {
	return fmt.Sprintf("\n\tIdentifier: %s \n\tDisplayName: %s \n\tFollowers: %d \n\tFollowing: %d \n\tCREATED_AT: %s", a.Identifier, a.DisplayName, a.FollowerCount, a.FollowingCount, a.CreatedAt)
}

// RemoteActor represents a cached federated actor document
type RemoteActor struct {
	ActorURI       string    `json:"actorUri"`
	Username       string    `json:"username"`
	Domain         string    `json:"domain"`
	DisplayName    string    `json:"displayName"`
	InboxURI       string    `json:"inbox"`
	SharedInboxURI string    `json:"sharedInbox,omitempty"`
	PublicKeyID    string    `json:"publicKeyId"`
	PublicKeyPem   string    `json:"publicKeyPem"`
	LastFetchedAt  time.Time `json:"lastFetchedAt"`
}
