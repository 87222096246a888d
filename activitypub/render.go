package activitypub

import (
	"time"

	"github.com/deemkeen/fedgate/domain"
)

// newRecord builds the ledger record for an inbound activity.
func newRecord(a Activity, owner string) *domain.Activity {
	rec := &domain.Activity{
		ID:       a.ActivityID(),
		Type:     a.Kind(),
		ActorURI: a.ActorURI(),
		Owner:    owner,
	}

	var env Envelope
	switch act := a.(type) {
	case *Follow:
		env = act.Envelope
		rec.ObjectURI = act.Object
	case *Accept:
		env = act.Envelope
		rec.ObjectURI = act.FollowID
		if act.Follow != nil {
			rec.Object = followObject(act.Follow.ID, act.Follow.Actor, act.Follow.Object)
		}
	case *Like:
		env = act.Envelope
		rec.ObjectURI = act.Object
	case *Undo:
		env = act.Envelope
		rec.ObjectURI = act.ObjectID
		if rec.ObjectURI == "" {
			rec.ObjectURI = undoneObject(act)
		}
		rec.Object = act.Raw
	case *Create:
		env = act.Envelope
		rec.ObjectURI = act.Object.ID
		rec.Object = noteObject(act.Object)
	}

	rec.PublishedAt = env.Published
	if len(env.To) > 0 || len(env.Cc) > 0 {
		rec.AdditionalData = map[string]interface{}{}
		if len(env.To) > 0 {
			rec.AdditionalData["to"] = env.To
		}
		if len(env.Cc) > 0 {
			rec.AdditionalData["cc"] = env.Cc
		}
	}
	return rec
}

func followObject(id, actor, object string) map[string]interface{} {
	return map[string]interface{}{
		"id":     id,
		"type":   string(domain.TypeFollow),
		"actor":  actor,
		"object": object,
	}
}

func noteObject(n Note) map[string]interface{} {
	if n.Raw != nil {
		return n.Raw
	}
	if n.Content == "" && n.AttributedTo == "" {
		return nil
	}
	obj := map[string]interface{}{
		"id":           n.ID,
		"type":         "Note",
		"attributedTo": n.AttributedTo,
		"content":      n.Content,
	}
	if n.InReplyTo != "" {
		obj["inReplyTo"] = n.InReplyTo
	}
	if !n.Published.IsZero() {
		obj["published"] = n.Published.Format(time.RFC3339)
	}
	if len(n.To) > 0 {
		obj["to"] = n.To
	}
	if len(n.Cc) > 0 {
		obj["cc"] = n.Cc
	}
	return obj
}

// RenderActivity returns the ActivityStreams document of a ledger record.
// The embedded object is used when the record has one, the object URI
// otherwise.
func RenderActivity(rec *domain.Activity) map[string]interface{} {
	doc := map[string]interface{}{
		"@context": ContextActivityStreams,
		"id":       rec.ID,
		"type":     string(rec.Type),
		"actor":    rec.ActorURI,
	}
	if !rec.PublishedAt.IsZero() {
		doc["published"] = rec.PublishedAt.UTC().Format(time.RFC3339)
	}
	if rec.Object != nil {
		doc["object"] = rec.Object
	} else if rec.ObjectURI != "" {
		doc["object"] = rec.ObjectURI
	}
	for _, field := range []string{"to", "cc"} {
		if v, ok := rec.AdditionalData[field]; ok {
			doc[field] = v
		}
	}
	return doc
}
