package domain

import (
	"time"

	"github.com/google/uuid"
)

// ActivityType enumerates the activity kinds the gateway understands.
type ActivityType string

const (
	TypeCreate ActivityType = "Create"
	TypeFollow ActivityType = "Follow"
	TypeAccept ActivityType = "Accept"
	TypeLike   ActivityType = "Like"
	TypeUndo   ActivityType = "Undo"
)

// Valid reports whether t is one of the supported activity kinds.
func (t ActivityType) Valid() bool {
	switch t {
	case TypeCreate, TypeFollow, TypeAccept, TypeLike, TypeUndo:
		return true
	}
	return false
}

// Activity is a ledger record. Records are append only: an Undo is a new
// record, never a change to an older one.
type Activity struct {
	ID             string                 `json:"id"`
	Type           ActivityType           `json:"type"`
	ActorURI       string                 `json:"actor"`
	ObjectURI      string                 `json:"objectUri,omitempty"`
	Object         map[string]interface{} `json:"object,omitempty"`
	PublishedAt    time.Time              `json:"published"`
	AdditionalData map[string]interface{} `json:"additionalData,omitempty"`
	Owner          string                 `json:"owner"` // identifier of the ledger the record lives in
	Local          bool                   `json:"local"` // true if originated from this server
	Seq            int64                  `json:"-"`     // store insertion order
}

// EdgeStatus is the state of a follow relationship.
type EdgeStatus string

const (
	EdgeAccepted EdgeStatus = "accepted"
	EdgeRemoved  EdgeStatus = "removed"
)

// FollowEdge represents a follow relationship. Followed is a local
// identifier for inbound follows and an actor URI for outbound ones.
type FollowEdge struct {
	FollowerURI      string     `json:"followerUri"`
	Followed         string     `json:"followed"`
	Status           EdgeStatus `json:"status"`
	SourceActivityID string     `json:"sourceActivityId"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

// DeliveryQueueItem represents an item in the delivery queue
type DeliveryQueueItem struct {
	Id           uuid.UUID `json:"id"`
	Sender       string    `json:"sender"` // local identifier whose key signs the request
	RecipientURI string    `json:"recipientUri"`
	InboxURI     string    `json:"inboxUri,omitempty"` // resolved lazily from RecipientURI
	ActivityJSON string    `json:"activityJson"` // The complete activity to deliver
	Attempts     int       `json:"attempts"`
	NextRetryAt  time.Time `json:"nextRetryAt"`
	CreatedAt    time.Time `json:"createdAt"`
}
