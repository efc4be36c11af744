package learning

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/scribeverse/scribe-companion/internal/channel"
	"github.com/scribeverse/scribe-companion/internal/rpc"
)

// ErrInvalidGrade means a review quality outside [0,5] was rejected before
// any network activity, so no correlation slot is ever consumed for it.
var ErrInvalidGrade = errors.New("learning: quality grade out of range")

// transport is the slice of the RPC client this package needs.
type transport interface {
	Call(msgType string, payload interface{}, timeout time.Duration) (json.RawMessage, error)
	OnPush(msgType string, handler rpc.PushHandler)
}

// Client issues the learning operations against the agent and keeps the
// local cache in sync with both responses and unsolicited pushes.
type Client struct {
	rpc     transport
	cache   *Cache
	timeout time.Duration
	log     *logrus.Entry
}

// NewClient creates a learning client over the given transport and
// subscribes its push handlers. A timeout of zero uses the transport's
// default per call.
func NewClient(t transport, timeout time.Duration, log *logrus.Logger) *Client {
	c := &Client{
		rpc:     t,
		cache:   NewCache(),
		timeout: timeout,
		log:     log.WithField("component", "learning"),
	}
	t.OnPush(PushItem, c.handleItemPush)
	t.OnPush(PushItems, c.handleItemsPush)
	return c
}

// Cache returns the local item cache for synchronous reads.
func (c *Client) Cache() *Cache {
	return c.cache
}

// GetDue fetches the items currently due for review and folds them into the
// cache.
func (c *Client) GetDue() ([]Item, error) {
	raw, err := c.rpc.Call(OpGetDue, map[string]interface{}{}, c.timeout)
	if err != nil {
		return nil, err
	}
	var payload itemsPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", rpc.ErrMalformedEnvelope, err)
	}
	c.cache.ReplaceSet(payload.Items)
	return payload.Items, nil
}

// GetByType fetches all items of one type and folds them into the cache.
func (c *Client) GetByType(itemType string) ([]Item, error) {
	raw, err := c.rpc.Call(OpGetByType, map[string]interface{}{"item_type": itemType}, c.timeout)
	if err != nil {
		return nil, err
	}
	var payload itemsPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", rpc.ErrMalformedEnvelope, err)
	}
	c.cache.ReplaceSet(payload.Items)
	return payload.Items, nil
}

// Create registers a new item with the agent's scheduler.
func (c *Client) Create(itemType, itemID, title string) (Item, error) {
	payload := map[string]interface{}{
		"item_type": itemType,
		"item_id":   itemID,
	}
	if title != "" {
		payload["title"] = title
	}
	return c.callForItem(OpCreate, payload)
}

// Review submits a quality grade for one item and applies the rescheduled
// state returned by the agent. The grade is validated before anything is
// sent.
func (c *Client) Review(itemType, itemID string, quality int) (Item, error) {
	if quality < MinQuality || quality > MaxQuality {
		return Item{}, fmt.Errorf("%w: %d", ErrInvalidGrade, quality)
	}
	return c.callForItem(OpReview, map[string]interface{}{
		"item_type": itemType,
		"item_id":   itemID,
		"quality":   quality,
	})
}

func (c *Client) callForItem(op string, payload interface{}) (Item, error) {
	raw, err := c.rpc.Call(op, payload, c.timeout)
	if err != nil {
		return Item{}, err
	}
	var item Item
	if err := json.Unmarshal(raw, &item); err != nil {
		return Item{}, fmt.Errorf("%w: %v", rpc.ErrMalformedEnvelope, err)
	}
	c.cache.Upsert(item)
	return item, nil
}

func (c *Client) handleItemPush(env channel.Envelope) {
	var item Item
	if err := json.Unmarshal(env.Payload, &item); err != nil {
		c.log.WithError(err).Warn("dropping malformed item push")
		return
	}
	if item.ItemType == "" || item.ItemID == "" {
		c.log.Warn("dropping item push with empty identity")
		return
	}
	c.cache.Upsert(item)
	c.log.WithFields(logrus.Fields{
		"item_type": item.ItemType,
		"item_id":   item.ItemID,
		"is_due":    item.IsDue,
	}).Debug("applied item push")
}

func (c *Client) handleItemsPush(env channel.Envelope) {
	var payload itemsPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		c.log.WithError(err).Warn("dropping malformed items push")
		return
	}
	c.cache.ReplaceSet(payload.Items)
	c.log.WithField("count", len(payload.Items)).Debug("applied bulk items push")
}
