package activitypub

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strconv"
	"time"

	"github.com/deemkeen/fedgate/domain"
	"github.com/google/uuid"
)

// PageSize is the number of activities in an outbox page.
const PageSize = 10

// Likes summarizes the likes of a Create's object.
type Likes struct {
	Count  int      `json:"count"`
	Actors []string `json:"actors"`
}

// PageItem is a ledger record, with the likes of its object for Creates.
type PageItem struct {
	domain.Activity
	Likes *Likes `json:"likes,omitempty"`
}

// Page is a window of an actor's ledger. Next is nil on the last page.
type Page struct {
	Items      []PageItem
	Next       *string
	TotalItems int
}

// Paginator serves an actor's ledger in pages of PageSize.
type Paginator struct {
	dir    *Directory
	ledger *Ledger
}

func NewPaginator(dir *Directory, ledger *Ledger) *Paginator {
	return &Paginator{dir: dir, ledger: ledger}
}

// ParseCursor turns a cursor into an offset. Absent, malformed and
// negative cursors start at the beginning.
func ParseCursor(cursor string) int {
	offset, err := strconv.Atoi(cursor)
	if err != nil || offset < 0 {
		return 0
	}
	return offset
}

// Page returns the window of identifier's ledger starting at cursor.
// Walking the Next cursors visits every record exactly once.
func (p *Paginator) Page(ctx context.Context, identifier, cursor string) (*Page, error) {
	exists, err := p.dir.Exists(ctx, identifier)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("actor %s: %w", identifier, domain.ErrNotFound)
	}

	all, err := p.ledger.ActivitiesForActor(ctx, identifier)
	if err != nil {
		return nil, err
	}

	page := &Page{Items: []PageItem{}, TotalItems: len(all)}
	offset := ParseCursor(cursor)
	if offset >= len(all) {
		return page, nil
	}
	end := min(offset+PageSize, len(all))

	for _, a := range all[offset:end] {
		item := PageItem{Activity: a}
		if a.Type == domain.TypeCreate && a.ObjectURI != "" {
			likes, err := p.likesOf(ctx, a.ObjectURI)
			if err != nil {
				return nil, err
			}
			item.Likes = likes
		}
		page.Items = append(page.Items, item)
	}

	if end < len(all) {
		next := strconv.Itoa(end)
		page.Next = &next
	}
	return page, nil
}

// likesOf counts the distinct actors that liked objectURI.
func (p *Paginator) likesOf(ctx context.Context, objectURI string) (*Likes, error) {
	records, err := p.ledger.FindByObject(ctx, domain.TypeLike, objectURI)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	likes := &Likes{Actors: []string{}}
	for _, rec := range records {
		if seen[rec.ActorURI] {
			continue
		}
		seen[rec.ActorURI] = true
		likes.Actors = append(likes.Actors, rec.ActorURI)
	}
	sort.Strings(likes.Actors)
	likes.Count = len(likes.Actors)
	return likes, nil
}

// Publisher originates activities of local actors.
type Publisher struct {
	dir      *Directory
	ledger   *Ledger
	links    Links
	delivery Deliverer
}

func NewPublisher(dir *Directory, ledger *Ledger, links Links, delivery Deliverer) *Publisher {
	return &Publisher{dir: dir, ledger: ledger, links: links, delivery: delivery}
}

// Publish appends a Create of a public note to identifier's ledger and
// sends it to every follower. Failed deliveries are retried by the
// delivery worker.
func (p *Publisher) Publish(ctx context.Context, identifier, content string) (*domain.Activity, error) {
	if err := p.requireActor(ctx, identifier); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	actorURI := p.links.Actor(identifier)
	noteURI := p.links.Note(identifier, uuid.New().String())
	to := []string{PublicCollection}
	cc := []string{p.links.Followers(identifier)}

	create := &domain.Activity{
		ID:        p.links.Activity(uuid.New().String()),
		Type:      domain.TypeCreate,
		ActorURI:  actorURI,
		ObjectURI: noteURI,
		Object: noteObject(Note{
			ID:           noteURI,
			AttributedTo: actorURI,
			Content:      content,
			Published:    now,
			To:           to,
			Cc:           cc,
		}),
		PublishedAt:    now,
		AdditionalData: map[string]interface{}{"to": to, "cc": cc},
		Owner:          identifier,
		Local:          true,
	}
	if err := p.ledger.Append(ctx, create); err != nil {
		return nil, err
	}

	followers, err := p.ledger.FollowersOf(ctx, identifier)
	if err != nil {
		return create, err
	}
	for _, follower := range followers {
		if err := p.delivery.Deliver(ctx, identifier, follower, create); err != nil {
			log.Printf("Outbox: Create %s not delivered to %s yet: %v", create.ID, follower, err)
		}
	}
	return create, nil
}

// Follow sends a Follow from identifier to targetURI. The edge is stored
// as accepted right away; the Accept only lands in the ledger.
func (p *Publisher) Follow(ctx context.Context, identifier, targetURI string) (*domain.Activity, error) {
	if err := p.requireActor(ctx, identifier); err != nil {
		return nil, err
	}
	targetURI = p.links.ActorRef(targetURI)
	actorURI := p.links.Actor(identifier)
	if targetURI == actorURI {
		return nil, fmt.Errorf("%w: %s cannot follow itself", domain.ErrInvalidInput, identifier)
	}

	follow := &domain.Activity{
		ID:          p.links.Activity(uuid.New().String()),
		Type:        domain.TypeFollow,
		ActorURI:    actorURI,
		ObjectURI:   targetURI,
		PublishedAt: time.Now().UTC(),
		Owner:       identifier,
		Local:       true,
	}
	if err := p.ledger.Append(ctx, follow); err != nil {
		return nil, err
	}
	if err := p.ledger.UpsertFollowEdge(ctx, actorURI, targetURI, domain.EdgeAccepted, follow.ID); err != nil {
		return follow, err
	}

	if err := p.delivery.Deliver(ctx, identifier, targetURI, follow); err != nil {
		log.Printf("Outbox: Follow %s not delivered yet: %v", follow.ID, err)
	}
	return follow, nil
}

func (p *Publisher) requireActor(ctx context.Context, identifier string) error {
	exists, err := p.dir.Exists(ctx, identifier)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("actor %s: %w", identifier, domain.ErrNotFound)
	}
	return nil
}
