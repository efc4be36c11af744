package channel

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	// writeQueueSize bounds the outbound queue; sends beyond it are dropped
	// and logged rather than blocking the caller.
	writeQueueSize = 100

	heartbeatInterval = 30 * time.Second
	pingInterval      = 45 * time.Second
	pingWriteDeadline = 10 * time.Second

	initialReconnectDelay = 1 * time.Second
	maxReconnectDelay     = 60 * time.Second
)

// ErrNotConnected is returned by Send when no connection is established and
// the outbound queue is full.
var ErrNotConnected = errors.New("channel: not connected")

// Conn manages the persistent WebSocket connection to the agent backend.
// It owns the read and write loops, keepalive pings, and reconnection with
// exponential backoff. Inbound envelopes are delivered to the OnEnvelope
// handler from a single goroutine, in arrival order.
type Conn struct {
	serverURL string
	authToken string
	log       *logrus.Entry

	writeChan chan Envelope
	stopChan  chan struct{}
	connDone  chan struct{} // closed when the current connection is torn down
	writeWg   sync.WaitGroup

	conn           *websocket.Conn
	connected      bool
	closed         bool
	reconnectDelay time.Duration
	mutex          sync.RWMutex

	onEnvelope   func(Envelope)
	onConnect    func()
	onDisconnect func()
}

// New creates a channel for the given WebSocket URL. The token is passed as
// a query parameter on dial, matching the backend's handshake.
func New(serverURL, authToken string, log *logrus.Logger) *Conn {
	return &Conn{
		serverURL:      serverURL,
		authToken:      authToken,
		log:            log.WithField("component", "channel"),
		writeChan:      make(chan Envelope, writeQueueSize),
		stopChan:       make(chan struct{}),
		reconnectDelay: initialReconnectDelay,
	}
}

// SetEnvelopeHandler sets the callback for inbound envelopes. Must be set
// before Connect; envelopes arriving with no handler are dropped.
func (c *Conn) SetEnvelopeHandler(handler func(Envelope)) {
	c.onEnvelope = handler
}

// SetConnectHandler sets the callback invoked after each successful connect,
// including reconnects.
func (c *Conn) SetConnectHandler(handler func()) {
	c.onConnect = handler
}

// SetDisconnectHandler sets the callback invoked when the connection is lost,
// before any reconnect attempt.
func (c *Conn) SetDisconnectHandler(handler func()) {
	c.onDisconnect = handler
}

// Connect establishes the WebSocket connection and starts the read and write
// loops.
func (c *Conn) Connect() error {
	url := fmt.Sprintf("%s?token=%s", c.serverURL, c.authToken)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return fmt.Errorf("channel: dial %s: %w", c.serverURL, err)
	}

	// Drain envelopes queued against the previous connection; they were
	// written for a session the server has already torn down.
drainLoop:
	for {
		select {
		case env := <-c.writeChan:
			c.log.WithField("type", env.Type).Debug("dropping stale queued envelope")
		default:
			break drainLoop
		}
	}

	c.mutex.Lock()
	c.conn = conn
	c.connected = true
	c.reconnectDelay = initialReconnectDelay
	c.connDone = make(chan struct{})
	c.mutex.Unlock()

	c.log.WithField("url", c.serverURL).Info("connected")

	c.writeWg.Add(1)
	go c.readLoop()
	go c.writeLoop()

	if c.onConnect != nil {
		c.onConnect()
	}

	return nil
}

// ConnectWithRetry connects with automatic retry and exponential backoff.
// It returns once connected, or when Close is called.
func (c *Conn) ConnectWithRetry() {
	attempt := 0
	for {
		select {
		case <-c.stopChan:
			return
		default:
		}

		err := c.Connect()
		if err == nil {
			return
		}

		attempt++
		c.log.WithError(err).WithField("attempt", attempt).Warn("connection failed")
		c.log.WithField("delay", c.reconnectDelay).Info("retrying")

		select {
		case <-time.After(c.reconnectDelay):
		case <-c.stopChan:
			return
		}

		c.reconnectDelay = time.Duration(math.Min(
			float64(c.reconnectDelay*2),
			float64(maxReconnectDelay),
		))
	}
}

// Send queues an envelope for delivery. It never blocks: when the queue is
// full the envelope is dropped and an error returned, since a stalled signal
// must never block editing.
func (c *Conn) Send(env Envelope) error {
	select {
	case c.writeChan <- env:
		return nil
	default:
		c.log.WithField("type", env.Type).Warn("write queue full, dropping envelope")
		return ErrNotConnected
	}
}

func (c *Conn) readLoop() {
	defer c.handleDisconnect()

	for {
		var env Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			c.log.WithError(err).Debug("read loop terminated")
			return
		}

		if c.onEnvelope != nil {
			c.onEnvelope(env)
		}
	}
}

func (c *Conn) writeLoop() {
	defer c.writeWg.Done()

	heartbeatTicker := time.NewTicker(heartbeatInterval)
	defer heartbeatTicker.Stop()

	// WebSocket-level pings keep the backend's read deadline alive between
	// heartbeats.
	pingTicker := time.NewTicker(pingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case env := <-c.writeChan:
			c.mutex.RLock()
			conn := c.conn
			c.mutex.RUnlock()
			if conn == nil {
				return
			}
			if err := conn.WriteJSON(env); err != nil {
				c.log.WithError(err).Debug("write error")
				return
			}

		case <-heartbeatTicker.C:
			env, err := NewEnvelope("", "heartbeat", map[string]interface{}{
				"timestamp": time.Now().Format(time.RFC3339),
			})
			if err == nil {
				c.Send(env)
			}

		case <-pingTicker.C:
			c.mutex.RLock()
			conn := c.conn
			c.mutex.RUnlock()
			if conn == nil {
				return
			}
			deadline := time.Now().Add(pingWriteDeadline)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.log.WithError(err).Debug("ping write error")
				return
			}

		case <-c.connDone:
			return

		case <-c.stopChan:
			return
		}
	}
}

func (c *Conn) handleDisconnect() {
	c.mutex.Lock()
	c.connected = false
	if c.connDone != nil {
		close(c.connDone)
	}
	if c.conn != nil {
		c.conn.Close()
	}
	c.mutex.Unlock()

	// Wait for the write loop to exit before reconnecting so two loops never
	// write to the same connection.
	c.writeWg.Wait()

	c.log.Info("disconnected")

	if c.onDisconnect != nil {
		c.onDisconnect()
	}

	select {
	case <-c.stopChan:
		return
	default:
	}

	c.log.Info("attempting to reconnect")
	c.ConnectWithRetry()
}

// Close shuts the channel down. Loops exit, the connection is closed, and no
// reconnect is attempted. Safe to call more than once.
func (c *Conn) Close() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.stopChan)
	if c.conn != nil {
		c.conn.Close()
	}
	return nil
}

// IsConnected reports whether the channel currently has a live connection.
func (c *Conn) IsConnected() bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.connected
}
