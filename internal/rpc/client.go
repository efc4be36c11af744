package rpc

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"

	"github.com/scribeverse/scribe-companion/internal/channel"
)

// DefaultTimeout bounds every call that does not override it, so no caller
// ever waits indefinitely against a slow or disconnected peer.
const DefaultTimeout = 10 * time.Second

// pushSeenTTL is how long push envelope ids are remembered for
// de-duplication. Push ids exist only for this; they carry no correlation.
const pushSeenTTL = 2 * time.Minute

// Sender is the outbound half of the channel the client writes to.
type Sender interface {
	Send(channel.Envelope) error
}

// PushHandler receives an unsolicited inbound envelope of a subscribed type.
type PushHandler func(channel.Envelope)

// Client provides request/response calls on top of a channel that only
// exchanges fire-and-forget envelopes, plus routing of unsolicited pushes.
//
// Dispatch follows a single rule: every inbound envelope is first offered to
// the correlation table by envelope id, then by a top-level "request_id"
// field in its payload; only on a miss is it treated as a push. A response
// can therefore never be misread as an independent update.
type Client struct {
	sender  Sender
	pending *pendingTable
	log     *logrus.Entry

	handlersMu sync.RWMutex
	handlers   map[string][]PushHandler

	// seenPushes remembers recently delivered push envelope ids so a
	// redelivered push is applied once.
	seenPushes *gocache.Cache
}

// NewClient creates an RPC client writing to the given sender. Wire
// Dispatch as the channel's envelope handler.
func NewClient(sender Sender, log *logrus.Logger) *Client {
	return &Client{
		sender:     sender,
		pending:    newPendingTable(),
		log:        log.WithField("component", "rpc"),
		handlers:   make(map[string][]PushHandler),
		seenPushes: gocache.New(pushSeenTTL, 2*pushSeenTTL),
	}
}

// Call sends a request envelope and blocks until the matching response
// arrives, the timeout elapses (ErrTimeout), or the channel disconnects
// (ErrChannelClosed). A timeout of zero means DefaultTimeout.
func (c *Client) Call(msgType string, payload interface{}, timeout time.Duration) (json.RawMessage, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	id := uuid.NewString()
	env, err := channel.NewEnvelope(id, msgType, payload)
	if err != nil {
		return nil, err
	}

	done, err := c.pending.register(id, timeout)
	if err != nil {
		return nil, err
	}

	c.log.WithFields(logrus.Fields{"type": msgType, "id": id}).Debug("call")

	if err := c.sender.Send(env); err != nil {
		c.pending.fail(id, err)
	}

	res := <-done
	if res.err != nil {
		return nil, res.err
	}
	return res.payload, nil
}

// Notify sends a fire-and-forget envelope with a fresh id and no pending
// entry. Used for activity signals that expect no response.
func (c *Client) Notify(msgType string, payload interface{}) error {
	env, err := channel.NewEnvelope(uuid.NewString(), msgType, payload)
	if err != nil {
		return err
	}
	return c.sender.Send(env)
}

// OnPush subscribes a handler for unsolicited envelopes of the given type.
// All handlers registered for a type are invoked, in registration order.
func (c *Client) OnPush(msgType string, handler PushHandler) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.handlers[msgType] = append(c.handlers[msgType], handler)
}

// Dispatch routes one inbound envelope. It is called from the channel's read
// loop, so envelopes are processed one at a time in arrival order.
func (c *Client) Dispatch(env channel.Envelope) {
	if len(env.Payload) > 0 && !json.Valid(env.Payload) {
		c.log.WithFields(logrus.Fields{"type": env.Type, "id": env.ID}).
			Warn("malformed envelope payload, dropping")
		return
	}

	// Correlation first: a matching response settles its call and is not
	// also delivered as a push.
	if env.ID != "" && c.pending.resolve(env.ID, env.Payload) {
		return
	}

	// Some responses echo the correlation id inside the payload instead of
	// the envelope id (bulk item lists do this). Still one dispatch rule,
	// applied here and nowhere else.
	if reqID := payloadRequestID(env.Payload); reqID != "" && c.pending.resolve(reqID, env.Payload) {
		return
	}

	c.dispatchPush(env)
}

func (c *Client) dispatchPush(env channel.Envelope) {
	if env.ID != "" {
		if _, dup := c.seenPushes.Get(env.ID); dup {
			c.log.WithFields(logrus.Fields{"type": env.Type, "id": env.ID}).
				Debug("duplicate push, dropping")
			return
		}
		c.seenPushes.SetDefault(env.ID, struct{}{})
	}

	c.handlersMu.RLock()
	handlers := c.handlers[env.Type]
	c.handlersMu.RUnlock()

	if len(handlers) == 0 {
		c.log.WithField("type", env.Type).Debug("no handler for push")
		return
	}
	for _, handler := range handlers {
		handler(env)
	}
}

// CancelAll fails every outstanding call with ErrChannelClosed. Wire this as
// the channel's disconnect handler.
func (c *Client) CancelAll() {
	c.pending.cancelAll(ErrChannelClosed)
}

// PendingCalls reports the number of outstanding requests.
func (c *Client) PendingCalls() int {
	return c.pending.size()
}

func payloadRequestID(payload json.RawMessage) string {
	if len(payload) == 0 {
		return ""
	}
	var probe struct {
		RequestID string `json:"request_id"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil {
		return ""
	}
	return probe.RequestID
}
