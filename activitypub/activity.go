package activitypub

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/deemkeen/fedgate/domain"
)

const (
	ContextActivityStreams = "https://www.w3.org/ns/activitystreams"
	PublicCollection       = "https://www.w3.org/ns/activitystreams#Public"
)

// Activity is an inbound activity decoded by ParseActivity. The set of
// implementations is closed: Follow, Accept, Like, Undo and Create.
type Activity interface {
	ActivityID() string
	ActorURI() string
	Kind() domain.ActivityType
	isActivity()
}

// Envelope holds the fields every activity carries.
type Envelope struct {
	ID        string
	Actor     string
	Published time.Time
	To        []string
	Cc        []string
}

func (e Envelope) ActivityID() string { return e.ID }
func (e Envelope) ActorURI() string   { return e.Actor }
func (e Envelope) isActivity()        {}

type Follow struct {
	Envelope
	Object string // followed actor
}

// Accept acknowledges a Follow. Follow holds the embedded follow when the
// peer sent one; FollowID is set either way.
type Accept struct {
	Envelope
	FollowID string
	Follow   *Follow
}

type Like struct {
	Envelope
	Object string
}

// Undo reverses an earlier activity. Object is the embedded activity when
// it is of a supported kind. ObjectType is the embedded type as sent, even
// for kinds we do not model; ObjectID is always set.
type Undo struct {
	Envelope
	ObjectID   string
	ObjectType string
	Object     Activity
	Raw        map[string]interface{}
}

// Note is the object of a Create.
type Note struct {
	ID           string
	Type         string
	AttributedTo string
	Content      string
	InReplyTo    string
	Published    time.Time
	To           []string
	Cc           []string
	Raw          map[string]interface{}
}

type Create struct {
	Envelope
	Object Note
}

func (Follow) Kind() domain.ActivityType { return domain.TypeFollow }
func (Accept) Kind() domain.ActivityType { return domain.TypeAccept }
func (Like) Kind() domain.ActivityType   { return domain.TypeLike }
func (Undo) Kind() domain.ActivityType   { return domain.TypeUndo }
func (Create) Kind() domain.ActivityType { return domain.TypeCreate }

// Recipients returns the to and cc addressing of the activity and, for a
// Create, of its object, without duplicates.
func (c *Create) Recipients() []string {
	seen := make(map[string]bool)
	var out []string
	for _, list := range [][]string{c.To, c.Cc, c.Object.To, c.Object.Cc} {
		for _, uri := range list {
			if uri == "" || seen[uri] {
				continue
			}
			seen[uri] = true
			out = append(out, uri)
		}
	}
	return out
}

// wireActivity is the JSON shape shared by all inbound activities. actor
// and object may be either a bare id or an embedded object.
type wireActivity struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Actor     json.RawMessage `json:"actor"`
	Object    json.RawMessage `json:"object"`
	Published string          `json:"published"`
	To        json.RawMessage `json:"to"`
	Cc        json.RawMessage `json:"cc"`
}

type wireNote struct {
	ID           string          `json:"id"`
	Type         string          `json:"type"`
	AttributedTo json.RawMessage `json:"attributedTo"`
	Content      string          `json:"content"`
	InReplyTo    json.RawMessage `json:"inReplyTo"`
	Published    string          `json:"published"`
	To           json.RawMessage `json:"to"`
	Cc           json.RawMessage `json:"cc"`
}

// ParseActivity decodes an inbound activity. Unsupported kinds and
// malformed documents return an error wrapping domain.ErrInvalidActivity.
func ParseActivity(body []byte) (Activity, error) {
	var w wireActivity
	if err := json.Unmarshal(body, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidActivity, err)
	}
	return decodeActivity(&w, 0)
}

// decodeActivity turns w into one of the supported kinds. depth bounds the
// nesting of Undo objects.
func decodeActivity(w *wireActivity, depth int) (Activity, error) {
	if depth > 2 {
		return nil, fmt.Errorf("%w: activity nested too deeply", domain.ErrInvalidActivity)
	}

	env := Envelope{
		ID:        w.ID,
		Actor:     refID(w.Actor),
		Published: parseTime(w.Published),
		To:        refList(w.To),
		Cc:        refList(w.Cc),
	}

	switch domain.ActivityType(w.Type) {
	case domain.TypeFollow:
		return &Follow{Envelope: env, Object: refID(w.Object)}, nil

	case domain.TypeLike:
		return &Like{Envelope: env, Object: refID(w.Object)}, nil

	case domain.TypeAccept:
		accept := &Accept{Envelope: env, FollowID: refID(w.Object)}
		if embedded, ok := embeddedActivity(w.Object); ok && embedded.Type == string(domain.TypeFollow) {
			inner, err := decodeActivity(embedded, depth+1)
			if err != nil {
				return nil, err
			}
			accept.Follow = inner.(*Follow)
		}
		return accept, nil

	case domain.TypeUndo:
		undo := &Undo{Envelope: env, ObjectID: refID(w.Object)}
		if embedded, ok := embeddedActivity(w.Object); ok {
			undo.ObjectType = embedded.Type
			undo.Raw = rawObject(w.Object)
			// Kinds we do not model are kept as raw data only.
			if inner, err := decodeActivity(embedded, depth+1); err == nil {
				undo.Object = inner
			}
		}
		return undo, nil

	case domain.TypeCreate:
		create := &Create{Envelope: env}
		if isReference(w.Object) {
			create.Object = Note{ID: refID(w.Object)}
			return create, nil
		}
		var n wireNote
		if len(w.Object) > 0 {
			if err := json.Unmarshal(w.Object, &n); err != nil {
				return nil, fmt.Errorf("%w: create object: %v", domain.ErrInvalidActivity, err)
			}
		}
		create.Object = Note{
			ID:           n.ID,
			Type:         n.Type,
			AttributedTo: refID(n.AttributedTo),
			Content:      n.Content,
			InReplyTo:    refID(n.InReplyTo),
			Published:    parseTime(n.Published),
			To:           refList(n.To),
			Cc:           refList(n.Cc),
			Raw:          rawObject(w.Object),
		}
		return create, nil
	}

	if w.Type == "" {
		return nil, fmt.Errorf("%w: missing type", domain.ErrInvalidActivity)
	}
	return nil, fmt.Errorf("%w: unsupported type %q", domain.ErrInvalidActivity, w.Type)
}

func isReference(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '"'
}

// refID returns the id of a reference that is either a string or an
// object with an "id" field.
func refID(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return ""
	}
	var s string
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
		return ""
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.ID
	}
	return ""
}

// refList accepts a single reference or an array of references.
func refList(raw json.RawMessage) []string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if raw[0] != '[' {
		if id := refID(raw); id != "" {
			return []string{id}
		}
		return nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if id := refID(item); id != "" {
			out = append(out, id)
		}
	}
	return out
}

func embeddedActivity(raw json.RawMessage) (*wireActivity, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return nil, false
	}
	var w wireActivity
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, false
	}
	return &w, true
}

func rawObject(raw json.RawMessage) map[string]interface{} {
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}
