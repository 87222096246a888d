package activitypub

import (
	"fmt"
	"regexp"
	"strings"
)

var identifierPattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// ValidIdentifier reports whether s can name a local actor.
func ValidIdentifier(s string) bool {
	return identifierPattern.MatchString(s)
}

type action uint

const (
	actorIRI action = iota
	inboxIRI
	outboxIRI
	followersIRI
	followingIRI
	sharedInboxIRI
)

// Links builds and parses the URIs of local actors and objects.
// Actor URIs follow {base}/users/{identifier}.
type Links struct {
	base string
}

// NewLinks takes the public base URL, e.g. "https://example.com".
func NewLinks(baseURL string) Links {
	return Links{base: strings.TrimRight(baseURL, "/")}
}

func (l Links) Base() string {
	return l.base
}

func (l Links) iri(identifier string, a action) string {
	prefix := fmt.Sprintf("%s/users/%s", l.base, identifier)
	switch a {
	case inboxIRI:
		return prefix + "/inbox"
	case outboxIRI:
		return prefix + "/outbox"
	case followersIRI:
		return prefix + "/followers"
	case followingIRI:
		return prefix + "/following"
	case sharedInboxIRI:
		return l.base + "/inbox"
	default:
		return prefix
	}
}

func (l Links) Actor(identifier string) string     { return l.iri(identifier, actorIRI) }
func (l Links) Inbox(identifier string) string     { return l.iri(identifier, inboxIRI) }
func (l Links) Outbox(identifier string) string    { return l.iri(identifier, outboxIRI) }
func (l Links) Followers(identifier string) string { return l.iri(identifier, followersIRI) }
func (l Links) Following(identifier string) string { return l.iri(identifier, followingIRI) }
func (l Links) SharedInbox() string                { return l.iri("", sharedInboxIRI) }

// KeyID is the id of the actor's public key, used as the signature keyId.
func (l Links) KeyID(identifier string) string {
	return l.Actor(identifier) + "#main-key"
}

// Activity returns the URI of a locally originated activity.
func (l Links) Activity(activityID string) string {
	return fmt.Sprintf("%s/activities/%s", l.base, activityID)
}

// Note returns the URI of a note owned by a local actor.
func (l Links) Note(identifier, noteID string) string {
	return fmt.Sprintf("%s/notes/%s", l.Actor(identifier), noteID)
}

// Identifier extracts the local identifier from a URI under
// {base}/users/{identifier}, including sub-resources like notes or the
// inbox. A bare identifier ("alice") is accepted as-is.
func (l Links) Identifier(uri string) (string, bool) {
	if ValidIdentifier(uri) {
		return uri, true
	}
	rest, ok := strings.CutPrefix(uri, l.base+"/users/")
	if !ok {
		return "", false
	}
	rest, _, _ = strings.Cut(rest, "/")
	rest, _, _ = strings.Cut(rest, "#")
	if !ValidIdentifier(rest) {
		return "", false
	}
	return rest, true
}

// LocalActor is like Identifier but only accepts URIs naming the actor
// itself, not one of its sub-resources.
func (l Links) LocalActor(uri string) (string, bool) {
	identifier, ok := l.Identifier(uri)
	if !ok {
		return "", false
	}
	if uri != identifier && uri != l.Actor(identifier) {
		return "", false
	}
	return identifier, true
}

// ActorRef returns the URI form of a follower or followed reference that
// may be stored as a bare local identifier.
func (l Links) ActorRef(ref string) string {
	if ValidIdentifier(ref) {
		return l.Actor(ref)
	}
	return ref
}
