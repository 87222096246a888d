package activitypub

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/deemkeen/fedgate/domain"
	"github.com/google/uuid"
)

// Processor applies inbound activities to the ledger and the follow graph.
// Each step of a handler is complete on its own, so a request cancelled
// halfway leaves a valid, if partial, state that a replay completes.
type Processor struct {
	dir      *Directory
	ledger   *Ledger
	links    Links
	delivery Deliverer
}

func NewProcessor(dir *Directory, ledger *Ledger, links Links, delivery Deliverer) *Processor {
	return &Processor{dir: dir, ledger: ledger, links: links, delivery: delivery}
}

// HandleBody decodes and handles a raw inbound activity.
func (p *Processor) HandleBody(ctx context.Context, body []byte, signedBy string) error {
	activity, err := ParseActivity(body)
	if err != nil {
		log.Printf("Inbox: Dropping undecodable activity: %v", err)
		return err
	}
	return p.Handle(ctx, activity, signedBy)
}

// Handle validates, authorizes and applies one activity. signedBy is the
// actor whose signature was verified, or empty when verification is off.
// Dropped activities are logged and reported through the returned error;
// callers acknowledge the delivery either way.
func (p *Processor) Handle(ctx context.Context, activity Activity, signedBy string) error {
	log.Printf("Inbox: Received %s %s from %s", activity.Kind(), activity.ActivityID(), activity.ActorURI())

	if activity.ActivityID() == "" || activity.ActorURI() == "" {
		return p.drop(activity, fmt.Errorf("%w: missing id or actor", domain.ErrInvalidActivity))
	}
	if signedBy != "" && signedBy != activity.ActorURI() {
		return p.drop(activity, fmt.Errorf("%w: signed by %s", domain.ErrUnauthorized, signedBy))
	}

	var err error
	switch a := activity.(type) {
	case *Follow:
		err = p.handleFollow(ctx, a)
	case *Accept:
		err = p.handleAccept(ctx, a)
	case *Like:
		err = p.handleLike(ctx, a)
	case *Undo:
		err = p.handleUndo(ctx, a)
	case *Create:
		err = p.handleCreate(ctx, a)
	default:
		err = fmt.Errorf("%w: unsupported activity %T", domain.ErrInvalidActivity, activity)
	}
	if err != nil {
		return p.drop(activity, err)
	}
	return nil
}

func (p *Processor) drop(activity Activity, err error) error {
	log.Printf("Inbox: Dropped %s %s: %v", activity.Kind(), activity.ActivityID(), err)
	return err
}

func (p *Processor) handleFollow(ctx context.Context, f *Follow) error {
	if f.Object == "" {
		return fmt.Errorf("%w: follow without object", domain.ErrInvalidActivity)
	}
	target, err := p.localTarget(ctx, f.Object)
	if err != nil {
		return err
	}

	if err := p.ledger.UpsertFollowEdge(ctx, f.Actor, target, domain.EdgeAccepted, f.ID); err != nil {
		return err
	}
	if err := p.ledger.Append(ctx, newRecord(f, target)); err != nil {
		return err
	}

	accept := p.newAccept(target, f)
	if err := p.ledger.Append(ctx, accept); err != nil {
		return err
	}

	log.Printf("Inbox: %s now follows %s", f.Actor, target)

	// The follow is applied either way; the dispatcher queues failed
	// deliveries for retry.
	if err := p.delivery.Deliver(context.WithoutCancel(ctx), target, f.Actor, accept); err != nil {
		log.Printf("Inbox: Accept for %s not delivered yet: %v", f.ID, err)
	}
	return nil
}

func (p *Processor) newAccept(target string, f *Follow) *domain.Activity {
	actorURI := p.links.Actor(target)
	return &domain.Activity{
		ID:          p.links.Activity(uuid.New().String()),
		Type:        domain.TypeAccept,
		ActorURI:    actorURI,
		ObjectURI:   f.ID,
		Object:      followObject(f.ID, f.Actor, actorURI),
		PublishedAt: time.Now().UTC(),
		Owner:       target,
		Local:       true,
	}
}

// handleAccept records the acceptance of a follow one of our actors sent.
// Only the followed actor may accept it.
func (p *Processor) handleAccept(ctx context.Context, a *Accept) error {
	var owner, followed string
	if a.Follow != nil {
		owner, _ = p.links.LocalActor(a.Follow.Actor)
		followed = a.Follow.Object
	}
	if owner == "" && a.FollowID != "" {
		records, err := p.ledger.FindByID(ctx, a.FollowID)
		if err != nil {
			return err
		}
		for _, rec := range records {
			if rec.Type == domain.TypeFollow && rec.Local {
				owner, followed = rec.Owner, rec.ObjectURI
				break
			}
		}
	}
	if owner == "" {
		log.Printf("Inbox: Accept %s refers to untracked follow %s", a.ID, a.FollowID)
		return fmt.Errorf("follow %s: %w", a.FollowID, domain.ErrNotFound)
	}
	if p.links.ActorRef(followed) != p.links.ActorRef(a.Actor) {
		return fmt.Errorf("%w: %s cannot accept a follow of %q", domain.ErrUnauthorized, a.Actor, followed)
	}
	if _, err := p.localTarget(ctx, owner); err != nil {
		return err
	}

	return p.appendOnce(ctx, a, owner)
}

func (p *Processor) handleLike(ctx context.Context, l *Like) error {
	if l.Object == "" {
		return fmt.Errorf("%w: like without object", domain.ErrInvalidActivity)
	}
	owner, err := p.objectOwner(ctx, l.Object)
	if err != nil {
		return err
	}
	return p.appendOnce(ctx, l, owner)
}

// handleUndo accepts the undone activity embedded, with or without an id,
// or by reference to a recorded activity.
func (p *Processor) handleUndo(ctx context.Context, u *Undo) error {
	inner := u.Object
	if inner == nil && u.ObjectType == "" {
		if u.ObjectID == "" {
			return fmt.Errorf("%w: undo without object", domain.ErrInvalidActivity)
		}
		resolved, err := p.resolveReference(ctx, u.ObjectID)
		if err != nil {
			return err
		}
		inner = resolved
	}

	switch obj := inner.(type) {
	case *Follow:
		return p.undoFollow(ctx, u, obj)
	default:
		return p.recordUndo(ctx, u)
	}
}

func (p *Processor) undoFollow(ctx context.Context, u *Undo, f *Follow) error {
	follower := f.Actor
	if follower == "" {
		follower = u.Actor
	}
	if follower != u.Actor {
		return fmt.Errorf("%w: %s cannot undo a follow of %s", domain.ErrUnauthorized, u.Actor, follower)
	}
	target, err := p.localTarget(ctx, f.Object)
	if err != nil {
		return err
	}

	if err := p.ledger.RemoveFollowEdge(ctx, follower, target); err != nil {
		return err
	}
	log.Printf("Inbox: %s no longer follows %s", follower, target)
	return p.ledger.Append(ctx, newRecord(u, target))
}

// recordUndo keeps an Undo of anything but a Follow for audit. It goes to
// the ledger holding the undone activity, or of the owner of its object.
func (p *Processor) recordUndo(ctx context.Context, u *Undo) error {
	owner := ""
	if u.ObjectID != "" {
		records, err := p.ledger.FindByID(ctx, u.ObjectID)
		if err != nil {
			return err
		}
		if len(records) > 0 {
			owner = records[0].Owner
		}
	}
	if owner == "" {
		if obj := undoneObject(u); obj != "" {
			owner, _ = p.objectOwner(ctx, obj)
		}
	}
	if owner == "" {
		return fmt.Errorf("undone %s %q: %w", u.ObjectType, u.ObjectID, domain.ErrNotFound)
	}
	log.Printf("Inbox: Recorded Undo of %s %s", u.ObjectType, u.ObjectID)
	return p.ledger.Append(ctx, newRecord(u, owner))
}

// undoneObject returns the object of the activity an Undo embeds.
func undoneObject(u *Undo) string {
	switch inner := u.Object.(type) {
	case *Like:
		return inner.Object
	case *Follow:
		return inner.Object
	}
	switch obj := u.Raw["object"].(type) {
	case string:
		return obj
	case map[string]interface{}:
		id, _ := obj["id"].(string)
		return id
	}
	return ""
}

// resolveReference finds a previously recorded activity by id and rebuilds
// it, so an Undo by reference is handled like an embedded one.
func (p *Processor) resolveReference(ctx context.Context, activityID string) (Activity, error) {
	records, err := p.ledger.FindByID(ctx, activityID)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("undone activity %s: %w", activityID, domain.ErrNotFound)
	}
	rec := records[0]
	env := Envelope{ID: rec.ID, Actor: rec.ActorURI, Published: rec.PublishedAt}
	switch rec.Type {
	case domain.TypeFollow:
		return &Follow{Envelope: env, Object: p.links.ActorRef(rec.Owner)}, nil
	case domain.TypeLike:
		return &Like{Envelope: env, Object: rec.ObjectURI}, nil
	}
	return nil, nil
}

func (p *Processor) handleCreate(ctx context.Context, c *Create) error {
	if c.Object.ID == "" {
		return fmt.Errorf("%w: create without object id", domain.ErrInvalidActivity)
	}
	if by := c.Object.AttributedTo; by != "" && by != c.Actor {
		return fmt.Errorf("%w: %s cannot create objects of %s", domain.ErrUnauthorized, c.Actor, by)
	}

	recipients := make(map[string]bool)
	for _, uri := range c.Recipients() {
		if identifier, ok := p.links.LocalActor(uri); ok {
			recipients[identifier] = true
		}
	}
	followers, err := p.ledger.FollowersOf(ctx, c.Actor)
	if err != nil {
		return err
	}
	for _, uri := range followers {
		if identifier, ok := p.links.LocalActor(uri); ok {
			recipients[identifier] = true
		}
	}

	delivered := 0
	for identifier := range recipients {
		exists, err := p.dir.Exists(ctx, identifier)
		if err != nil {
			return err
		}
		if !exists {
			continue
		}
		if err := p.appendOnce(ctx, c, identifier); err != nil {
			return err
		}
		delivered++
	}
	if delivered == 0 {
		return fmt.Errorf("no local recipients for %s: %w", c.ID, domain.ErrNotFound)
	}
	return nil
}

// appendOnce appends a to the ledger of owner unless that ledger already
// holds an activity with the same id, so replays are harmless.
func (p *Processor) appendOnce(ctx context.Context, a Activity, owner string) error {
	records, err := p.ledger.FindByID(ctx, a.ActivityID())
	if err != nil {
		return err
	}
	for _, rec := range records {
		if rec.Owner == owner {
			log.Printf("Inbox: %s %s already recorded for %s", a.Kind(), a.ActivityID(), owner)
			return nil
		}
	}
	return p.ledger.Append(ctx, newRecord(a, owner))
}

// localTarget resolves uri to an existing local actor.
func (p *Processor) localTarget(ctx context.Context, uri string) (string, error) {
	identifier, ok := p.links.LocalActor(uri)
	if !ok {
		return "", fmt.Errorf("%s is not a local actor: %w", uri, domain.ErrNotFound)
	}
	exists, err := p.dir.Exists(ctx, identifier)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", fmt.Errorf("actor %s: %w", identifier, domain.ErrNotFound)
	}
	return identifier, nil
}

// objectOwner finds the local actor owning objectURI: from the URI itself
// for local objects, else from the recorded Create of the object.
func (p *Processor) objectOwner(ctx context.Context, objectURI string) (string, error) {
	if identifier, ok := p.links.Identifier(objectURI); ok {
		return p.localTarget(ctx, identifier)
	}
	records, err := p.ledger.FindByObject(ctx, domain.TypeCreate, objectURI)
	if err != nil {
		return "", err
	}
	for _, rec := range records {
		if rec.Local {
			return rec.Owner, nil
		}
	}
	return "", fmt.Errorf("object %s: %w", objectURI, domain.ErrNotFound)
}
