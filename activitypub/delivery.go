package activitypub

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sort"
	"time"

	"github.com/deemkeen/fedgate/db"
	"github.com/deemkeen/fedgate/domain"
	"github.com/deemkeen/fedgate/util"
	"github.com/google/uuid"
)

const (
	deliveryPK          = "DELIVERY"
	deliveryBatch       = 50
	maxDeliveryAttempts = 10
)

var backoffMinutes = []int{1, 5, 15, 60, 240, 1440}

// Deliverer sends an activity on behalf of a local actor to another actor.
type Deliverer interface {
	Deliver(ctx context.Context, sender, recipientURI string, activity *domain.Activity) error
}

// LocalInbox accepts activities addressed to local actors without a round
// trip over HTTP.
type LocalInbox interface {
	Handle(ctx context.Context, activity Activity, signedBy string) error
}

// Dispatcher delivers activities with signed POST requests. Failed
// deliveries are queued in the store and retried by the delivery worker.
type Dispatcher struct {
	dir    *Directory
	actors *RemoteActors
	store  db.Store
	links  Links
	client *http.Client
	local  LocalInbox
	now    func() time.Time
}

func NewDispatcher(dir *Directory, actors *RemoteActors, store db.Store, links Links, client *http.Client) *Dispatcher {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Dispatcher{dir: dir, actors: actors, store: store, links: links, client: client, now: time.Now}
}

// SetLocalInbox routes activities for local recipients to inbox.
func (d *Dispatcher) SetLocalInbox(inbox LocalInbox) {
	d.local = inbox
}

// Deliver sends activity to the inbox of recipientURI. A failed remote
// delivery is queued for retry and its error returned.
func (d *Dispatcher) Deliver(ctx context.Context, sender, recipientURI string, activity *domain.Activity) error {
	body, err := json.Marshal(RenderActivity(activity))
	if err != nil {
		return fmt.Errorf("failed to marshal activity: %w", err)
	}

	if _, ok := d.links.LocalActor(recipientURI); ok && d.local != nil {
		parsed, err := ParseActivity(body)
		if err != nil {
			return err
		}
		return d.local.Handle(ctx, parsed, d.links.Actor(sender))
	}

	item := &domain.DeliveryQueueItem{
		Id:           uuid.New(),
		Sender:       sender,
		RecipientURI: recipientURI,
		ActivityJSON: string(body),
		CreatedAt:    d.now().UTC(),
	}
	if err := d.attempt(ctx, item); err != nil {
		d.retryLater(ctx, item, err)
		return err
	}
	log.Printf("Outbox: Sent %s to %s", activity.Type, item.InboxURI)
	return nil
}

// StartDeliveryWorker starts a background worker that processes the
// delivery queue until ctx is cancelled.
func (d *Dispatcher) StartDeliveryWorker(ctx context.Context, interval time.Duration) {
	log.Println("Starting ActivityPub delivery worker...")

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				d.ProcessQueue(ctx)
			}
		}
	}()
}

// ProcessQueue retries the deliveries that are due and returns how many of
// them succeeded.
func (d *Dispatcher) ProcessQueue(ctx context.Context) int {
	items, err := d.pending(ctx)
	if err != nil {
		log.Printf("DeliveryWorker: Failed to read queue: %v", err)
		return 0
	}
	if len(items) == 0 {
		return 0
	}

	log.Printf("DeliveryWorker: Processing %d pending deliveries", len(items))

	delivered := 0
	for i := range items {
		item := &items[i]
		if err := d.attempt(ctx, item); err != nil {
			d.retryLater(ctx, item, err)
			continue
		}
		log.Printf("DeliveryWorker: Successfully delivered to %s", item.InboxURI)
		if err := d.store.Delete(ctx, deliveryPK, item.Id.String()); err != nil {
			log.Printf("DeliveryWorker: Failed to dequeue %s: %v", item.Id, err)
		}
		delivered++
	}
	return delivered
}

// Pending returns the number of queued deliveries, due or not.
func (d *Dispatcher) Pending(ctx context.Context) (int, error) {
	items, err := d.store.Query(ctx, deliveryPK, "")
	if err != nil {
		return 0, err
	}
	return len(items), nil
}

func (d *Dispatcher) pending(ctx context.Context) ([]domain.DeliveryQueueItem, error) {
	rows, err := d.store.Query(ctx, deliveryPK, "")
	if err != nil {
		return nil, err
	}

	now := d.now()
	var due []domain.DeliveryQueueItem
	for _, row := range rows {
		var item domain.DeliveryQueueItem
		if err := json.Unmarshal(row.Data, &item); err != nil {
			log.Printf("DeliveryWorker: Dropping undecodable queue item %s: %v", row.SK, err)
			d.store.Delete(ctx, deliveryPK, row.SK)
			continue
		}
		if !item.NextRetryAt.After(now) {
			due = append(due, item)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].NextRetryAt.Before(due[j].NextRetryAt) })
	if len(due) > deliveryBatch {
		due = due[:deliveryBatch]
	}
	return due, nil
}

// retryLater schedules the next attempt with backoff, or drops the item
// after maxDeliveryAttempts.
func (d *Dispatcher) retryLater(ctx context.Context, item *domain.DeliveryQueueItem, cause error) {
	item.Attempts++
	if item.Attempts >= maxDeliveryAttempts {
		log.Printf("DeliveryWorker: Giving up on delivery to %s after %d attempts", item.RecipientURI, item.Attempts)
		if err := d.store.Delete(ctx, deliveryPK, item.Id.String()); err != nil {
			log.Printf("DeliveryWorker: Failed to dequeue %s: %v", item.Id, err)
		}
		return
	}

	wait := backoffMinutes[min(item.Attempts-1, len(backoffMinutes)-1)]
	item.NextRetryAt = d.now().Add(time.Duration(wait) * time.Minute).UTC()
	log.Printf("DeliveryWorker: Delivery to %s failed (attempt %d), retry in %dm: %v",
		item.RecipientURI, item.Attempts, wait, cause)

	data, err := json.Marshal(item)
	if err != nil {
		log.Printf("DeliveryWorker: Failed to marshal queue item: %v", err)
		return
	}
	if err := d.store.Put(ctx, &db.Item{PK: deliveryPK, SK: item.Id.String(), Data: data}); err != nil {
		log.Printf("DeliveryWorker: Failed to queue delivery to %s: %v", item.RecipientURI, err)
	}
}

// attempt makes one signed POST of the item, resolving the recipient's
// inbox first if needed.
func (d *Dispatcher) attempt(ctx context.Context, item *domain.DeliveryQueueItem) error {
	if item.InboxURI == "" {
		actor, err := d.actors.Get(ctx, item.RecipientURI)
		if err != nil {
			return fmt.Errorf("failed to resolve inbox of %s: %w", item.RecipientURI, err)
		}
		item.InboxURI = actor.InboxURI
	}

	kp, err := d.dir.GetOrGenerateKeyPair(ctx, item.Sender)
	if err != nil {
		return fmt.Errorf("failed to get keys of %s: %w", item.Sender, err)
	}
	privateKey, err := ParsePrivateKey(kp.PrivateKeyPem)
	if err != nil {
		return fmt.Errorf("failed to parse private key: %w", err)
	}

	body := []byte(item.ActivityJSON)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, item.InboxURI, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/activity+json")
	req.Header.Set("Accept", "application/activity+json")
	req.Header.Set("User-Agent", util.UserAgent())
	req.Header.Set("Date", d.now().UTC().Format(http.TimeFormat))
	req.Header.Set("Host", req.URL.Host)

	if err := SignRequest(req, privateKey, d.links.KeyID(item.Sender), body); err != nil {
		return fmt.Errorf("failed to sign request: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("remote server returned status: %d", resp.StatusCode)
	}
	return nil
}
