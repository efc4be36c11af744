// Package session wires the activity tracker, RPC client, and learning cache
// into one editing-session lifetime against the agent backend.
package session

import (
	"encoding/json"
	"runtime"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/scribeverse/scribe-companion/internal/activity"
	"github.com/scribeverse/scribe-companion/internal/channel"
	"github.com/scribeverse/scribe-companion/internal/learning"
	"github.com/scribeverse/scribe-companion/internal/rpc"
)

// Outbound signal and inbound surface message types.
const (
	MsgHello        = "session.hello"
	MsgActivityText = "activity.text"
	MsgActivityIdle = "activity.idle"

	// PushAgentWrite announces that the agent started or finished writing
	// into the surface; payload {"state": "begin" | "end"}.
	PushAgentWrite = "surface.agent_write"
	// PushSurfaceEdit carries a raw edit event from the editing surface;
	// payload {"content", "cursor", "agent_regions"}.
	PushSurfaceEdit = "surface.edit"
)

// signalBurst is how many activity signals may go out back to back before
// the rate limit applies.
const signalBurst = 5

// notifier is the fire-and-forget slice of the RPC client.
type notifier interface {
	Notify(msgType string, payload interface{}) error
}

// Options configures a session.
type Options struct {
	SessionID          string
	ClientVersion      string
	DueRefreshInterval time.Duration
	SignalsPerMinute   int
	Activity           activity.Config
}

// Session owns one editing session's sync state: it feeds surface events to
// the tracker, forwards the tracker's signals to the agent, keeps the
// learning cache fresh, and ties pending calls to the channel lifecycle.
type Session struct {
	opts     Options
	conn     *channel.Conn
	rpc      *rpc.Client
	learning *learning.Client
	tracker  *activity.Tracker
	notifier notifier
	limiter  *rate.Limiter
	sched    gocron.Scheduler
	log      *logrus.Entry
}

// New assembles a session. Call Start to connect and begin tracking.
func New(conn *channel.Conn, rpcClient *rpc.Client, learningClient *learning.Client, opts Options, log *logrus.Logger) (*Session, error) {
	if opts.SignalsPerMinute <= 0 {
		opts.SignalsPerMinute = 30
	}
	if opts.DueRefreshInterval <= 0 {
		opts.DueRefreshInterval = 5 * time.Minute
	}

	s := &Session{
		opts:     opts,
		conn:     conn,
		rpc:      rpcClient,
		learning: learningClient,
		notifier: rpcClient,
		limiter:  rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.SignalsPerMinute)), signalBurst),
		log:      log.WithField("component", "session"),
	}
	s.tracker = activity.NewTracker(opts.Activity, s.emitText, s.emitIdle, log)

	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}
	s.sched = sched

	conn.SetEnvelopeHandler(rpcClient.Dispatch)
	conn.SetDisconnectHandler(rpcClient.CancelAll)
	conn.SetConnectHandler(s.onConnect)

	rpcClient.OnPush(PushAgentWrite, s.handleAgentWrite)
	rpcClient.OnPush(PushSurfaceEdit, s.handleSurfaceEdit)

	return s, nil
}

// Learning returns the learning client for direct reads and calls.
func (s *Session) Learning() *learning.Client {
	return s.learning
}

// Start begins tracking, schedules the periodic due refresh, and connects,
// retrying until Stop. It returns once the first connection is established.
func (s *Session) Start() error {
	if _, err := s.sched.NewJob(
		gocron.DurationJob(s.opts.DueRefreshInterval),
		gocron.NewTask(s.refreshDue),
	); err != nil {
		return err
	}
	s.sched.Start()

	s.tracker.Start()
	s.conn.ConnectWithRetry()
	return nil
}

// Stop tears the session down on every path: tracker timers released,
// scheduler shut down, channel closed, outstanding calls failed.
func (s *Session) Stop() {
	s.tracker.Stop()
	if err := s.sched.Shutdown(); err != nil {
		s.log.WithError(err).Warn("scheduler shutdown")
	}
	s.conn.Close()
	s.rpc.CancelAll()
}

// HandleEdit feeds a local edit event into the tracker.
func (s *Session) HandleEdit(view activity.SurfaceView) {
	s.tracker.RecordEdit(view)
}

// AgentWriteBegan suppresses local signals while the agent writes into the
// surface.
func (s *Session) AgentWriteBegan() {
	s.tracker.BeginSuppression()
}

// AgentWriteEnded lifts suppression.
func (s *Session) AgentWriteEnded() {
	s.tracker.EndSuppression()
}

func (s *Session) onConnect() {
	payload := map[string]interface{}{
		"session_id":     s.opts.SessionID,
		"client_version": s.opts.ClientVersion,
		"platform":       runtime.GOOS,
	}
	if err := s.notifier.Notify(MsgHello, payload); err != nil {
		s.log.WithError(err).Warn("hello not sent")
	}

	// Fresh connection, fresh due set.
	go s.refreshDue()
}

func (s *Session) refreshDue() {
	items, err := s.learning.GetDue()
	if err != nil {
		s.log.WithError(err).Warn("due refresh failed")
		return
	}
	s.log.WithField("due", len(items)).Debug("due set refreshed")
}

func (s *Session) emitText(sig activity.TextSignal) {
	if !s.limiter.Allow() {
		s.log.Debug("text signal rate limited")
		return
	}
	err := s.notifier.Notify(MsgActivityText, map[string]interface{}{
		"text":     sig.Text,
		"position": sig.Position,
	})
	if err != nil {
		s.log.WithError(err).Warn("text signal not sent")
	}
}

func (s *Session) emitIdle(sig activity.IdleSignal) {
	if !s.limiter.Allow() {
		s.log.Debug("idle signal rate limited")
		return
	}
	err := s.notifier.Notify(MsgActivityIdle, map[string]interface{}{
		"duration_ms": sig.Duration.Milliseconds(),
	})
	if err != nil {
		s.log.WithError(err).Warn("idle signal not sent")
	}
}

func (s *Session) handleAgentWrite(env channel.Envelope) {
	var payload struct {
		State string `json:"state"`
	}
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		s.log.WithError(err).Warn("dropping malformed agent_write push")
		return
	}
	switch payload.State {
	case "begin":
		s.AgentWriteBegan()
	case "end":
		s.AgentWriteEnded()
	default:
		s.log.WithField("state", payload.State).Warn("unknown agent_write state")
	}
}

func (s *Session) handleSurfaceEdit(env channel.Envelope) {
	var payload struct {
		Content      string `json:"content"`
		Cursor       int    `json:"cursor"`
		AgentRegions []struct {
			Start int `json:"start"`
			End   int `json:"end"`
		} `json:"agent_regions"`
	}
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		s.log.WithError(err).Warn("dropping malformed surface edit")
		return
	}

	view := activity.SurfaceView{Content: payload.Content, Cursor: payload.Cursor}
	for _, r := range payload.AgentRegions {
		view.AgentRegions = append(view.AgentRegions, activity.Region{Start: r.Start, End: r.End})
	}
	s.HandleEdit(view)
}
