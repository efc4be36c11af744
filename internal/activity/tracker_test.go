package activity

import (
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
)

// recorder collects emitted signals across timer goroutines.
type recorder struct {
	mu    sync.Mutex
	texts []TextSignal
	idles []IdleSignal
}

func (r *recorder) onText(s TextSignal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.texts = append(r.texts, s)
}

func (r *recorder) onIdle(s IdleSignal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.idles = append(r.idles, s)
}

func (r *recorder) textCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.texts)
}

func (r *recorder) idleCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.idles)
}

func (r *recorder) lastText() TextSignal {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.texts[len(r.texts)-1]
}

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

// fastConfig keeps the debounce window short enough to test with real timers
// and the idle poll slow enough to never fire on its own.
func fastConfig() Config {
	return Config{
		DebounceWindow:   30 * time.Millisecond,
		IdleThreshold:    30 * time.Second,
		IdlePollInterval: time.Hour,
	}
}

func newTestTracker(t *testing.T, cfg Config) (*Tracker, *recorder) {
	t.Helper()
	rec := &recorder{}
	tracker := NewTracker(cfg, rec.onText, rec.onIdle, testLogger())
	tracker.Start()
	t.Cleanup(tracker.Stop)
	return tracker, rec
}

func view(content string) SurfaceView {
	return SurfaceView{Content: content, Cursor: len(content)}
}

func TestDebounce_CollapsesBurstToOneEmission(t *testing.T) {
	tracker, rec := newTestTracker(t, fastConfig())

	tracker.RecordEdit(view("The first dr"))
	time.Sleep(10 * time.Millisecond)
	tracker.RecordEdit(view("The first draft of the"))
	time.Sleep(10 * time.Millisecond)
	tracker.RecordEdit(view("The first draft of the chapter."))

	time.Sleep(100 * time.Millisecond)

	if rec.textCount() != 1 {
		t.Fatalf("expected exactly one emission, got %d", rec.textCount())
	}
	if got := rec.lastText().Text; got != "The first draft of the chapter." {
		t.Errorf("emission carries stale state: %q", got)
	}
}

func TestDebounce_DistinctBurstsEmitSeparately(t *testing.T) {
	tracker, rec := newTestTracker(t, fastConfig())

	tracker.RecordEdit(view("First thought here."))
	time.Sleep(80 * time.Millisecond)
	tracker.RecordEdit(view("First thought here. Second thought follows."))
	time.Sleep(80 * time.Millisecond)

	if rec.textCount() != 2 {
		t.Fatalf("expected two emissions, got %d", rec.textCount())
	}
}

func TestDebounce_UnchangedTextDoesNotReEmit(t *testing.T) {
	tracker, rec := newTestTracker(t, fastConfig())

	content := "Same paragraph, emitted once."
	tracker.RecordEdit(view(content))
	time.Sleep(80 * time.Millisecond)
	tracker.RecordEdit(view(content))
	time.Sleep(80 * time.Millisecond)

	if rec.textCount() != 1 {
		t.Fatalf("identical text re-emitted: %d emissions", rec.textCount())
	}
}

func TestDeletion_NeverEmitsButResetsIdleClock(t *testing.T) {
	tracker, rec := newTestTracker(t, fastConfig())

	// Establish a baseline length without letting it emit.
	tracker.RecordEdit(view("A sentence that will shrink away."))
	tracker.BeginSuppression()
	tracker.EndSuppression()

	before := time.Now()
	tracker.RecordEdit(view("A sentence that will shrink"))
	tracker.RecordEdit(view("A sentence that"))
	tracker.RecordEdit(view("A sen"))

	time.Sleep(100 * time.Millisecond)

	if rec.textCount() != 0 {
		t.Fatalf("deletion sequence produced %d emissions", rec.textCount())
	}

	tracker.mutex.Lock()
	lastActivity := tracker.lastActivity
	idleSent := tracker.idleSignalSent
	tracker.mutex.Unlock()
	if lastActivity.Before(before) {
		t.Error("deletion did not reset the idle clock")
	}
	if idleSent {
		t.Error("deletion left idleSignalSent set")
	}
}

func TestDeletion_CancelsPendingEmissionFromEarlierInsertion(t *testing.T) {
	tracker, rec := newTestTracker(t, fastConfig())

	// Establish a baseline length without letting it emit.
	tracker.RecordEdit(view("An established paragraph sitting in the surface."))
	tracker.BeginSuppression()
	tracker.EndSuppression()

	// One insertion opens the debounce window, then the user retracts well
	// below the baseline before it fires. Net length strictly decreased, so
	// nothing may emit.
	tracker.RecordEdit(view("An established paragraph sitting in the surface.x"))
	tracker.RecordEdit(view("An established parag"))

	time.Sleep(100 * time.Millisecond)

	if rec.textCount() != 0 {
		t.Fatalf("net-decreasing burst emitted %d signal(s): %q", rec.textCount(), rec.lastText().Text)
	}
	if tracker.State() != StateIdle {
		t.Errorf("expected idle state after retraction, got %v", tracker.State())
	}

	// A fresh insertion afterwards still emits normally.
	tracker.RecordEdit(view("An established paragraph, rewritten and growing again."))
	time.Sleep(100 * time.Millisecond)
	if rec.textCount() != 1 {
		t.Fatalf("insertion after retraction emitted %d signals", rec.textCount())
	}
}

func TestSuppression_SwallowsSignalsButKeepsBaseline(t *testing.T) {
	tracker, rec := newTestTracker(t, fastConfig())

	tracker.BeginSuppression()
	if tracker.State() != StateSuppressed {
		t.Fatalf("expected suppressed state, got %v", tracker.State())
	}

	// Agent writing into the surface shows up as local edit events too;
	// none may emit, but the length baseline must track them.
	tracker.RecordEdit(view("Agent wrote this paragraph into the surface."))
	time.Sleep(100 * time.Millisecond)

	if rec.textCount() != 0 {
		t.Fatalf("suppressed edit emitted %d signals", rec.textCount())
	}

	tracker.EndSuppression()

	// Shorter than the agent text: without baseline bookkeeping this would
	// be misread as an insertion against a stale, smaller baseline.
	tracker.RecordEdit(view("Agent wrote this paragraph into the"))
	time.Sleep(100 * time.Millisecond)
	if rec.textCount() != 0 {
		t.Fatal("post-suppression deletion was classified as insertion")
	}

	// Growth after suppression emits normally.
	tracker.RecordEdit(view("Agent wrote this paragraph into the surface, and then I kept going."))
	time.Sleep(100 * time.Millisecond)
	if rec.textCount() != 1 {
		t.Fatalf("post-suppression insertion emitted %d signals", rec.textCount())
	}
}

func TestSuppression_CancelsPendingEmission(t *testing.T) {
	tracker, rec := newTestTracker(t, fastConfig())

	tracker.RecordEdit(view("About to be interrupted by the agent."))
	tracker.BeginSuppression()

	time.Sleep(100 * time.Millisecond)
	if rec.textCount() != 0 {
		t.Fatal("debounce fired despite suppression")
	}
}

func TestEndSuppression_ClearsLastEmittedText(t *testing.T) {
	tracker, rec := newTestTracker(t, fastConfig())

	content := "The same text before and after the agent's pass."
	tracker.RecordEdit(view(content))
	time.Sleep(80 * time.Millisecond)
	if rec.textCount() != 1 {
		t.Fatalf("setup emission missing, got %d", rec.textCount())
	}

	tracker.BeginSuppression()
	tracker.EndSuppression()

	tracker.RecordEdit(view(content))
	time.Sleep(80 * time.Millisecond)

	if rec.textCount() != 2 {
		t.Fatalf("stale last-emitted comparison blocked the fresh emission, got %d", rec.textCount())
	}
}

func TestIdle_EmitsOncePerIdlePeriod(t *testing.T) {
	tracker, rec := newTestTracker(t, fastConfig())

	current := time.Now()
	tracker.now = func() time.Time { return current }

	tracker.RecordEdit(view("Some words, then silence."))

	// Not yet past the threshold.
	current = current.Add(29 * time.Second)
	tracker.checkIdle()
	if rec.idleCount() != 0 {
		t.Fatal("idle signal fired before threshold")
	}

	current = current.Add(2 * time.Second)
	tracker.checkIdle()
	if rec.idleCount() != 1 {
		t.Fatalf("expected one idle signal, got %d", rec.idleCount())
	}

	// Continued inactivity must not re-fire.
	current = current.Add(time.Minute)
	tracker.checkIdle()
	tracker.checkIdle()
	if rec.idleCount() != 1 {
		t.Fatalf("idle signal re-fired without intervening activity: %d", rec.idleCount())
	}

	// Activity re-arms it.
	tracker.RecordEdit(view("Back again with more words."))
	current = current.Add(31 * time.Second)
	tracker.checkIdle()
	if rec.idleCount() != 2 {
		t.Fatalf("idle signal did not re-arm after activity: %d", rec.idleCount())
	}
}

func TestIdle_SuppressedSessionNeverSignalsIdle(t *testing.T) {
	tracker, rec := newTestTracker(t, fastConfig())

	current := time.Now()
	tracker.now = func() time.Time { return current }

	tracker.RecordEdit(view("Words before the agent takes over."))
	tracker.BeginSuppression()

	current = current.Add(time.Minute)
	tracker.checkIdle()
	if rec.idleCount() != 0 {
		t.Fatal("idle signal emitted while suppressed")
	}
}

func TestStop_ReleasesTimers(t *testing.T) {
	rec := &recorder{}
	tracker := NewTracker(fastConfig(), rec.onText, rec.onIdle, testLogger())
	tracker.Start()

	tracker.RecordEdit(view("Edit armed just before teardown."))
	tracker.Stop()

	time.Sleep(100 * time.Millisecond)
	if rec.textCount() != 0 {
		t.Fatal("debounce fired after Stop")
	}
}

func TestExtract_ActiveParagraph(t *testing.T) {
	cfg := DefaultConfig()
	content := "First paragraph up top.\n\nSecond paragraph, being edited.\n\nThird paragraph below."
	cursor := strings.Index(content, "being")

	text, pos := Extract(SurfaceView{Content: content, Cursor: cursor}, cfg)
	if text != "Second paragraph, being edited." {
		t.Errorf("wrong paragraph extracted: %q", text)
	}
	if want := strings.Index(content, "Second"); pos != want {
		t.Errorf("position = %d, want %d", pos, want)
	}
}

func TestExtract_FallbackToLastLines(t *testing.T) {
	cfg := DefaultConfig()
	content := "A line of real writing.\nAnother line here.\n\nok"

	// Cursor sits in a paragraph shorter than the minimum.
	text, _ := Extract(SurfaceView{Content: content, Cursor: len(content)}, cfg)
	if !strings.Contains(text, "Another line here.") {
		t.Errorf("fallback did not include preceding lines: %q", text)
	}
}

func TestExtract_AgentRegionsExcluded(t *testing.T) {
	cfg := DefaultConfig()
	user := "My own words lead in. "
	agent := "AGENT SUGGESTION HERE."
	content := user + agent
	regions := []Region{{Start: len(user), End: len(content)}}

	text, _ := Extract(SurfaceView{Content: content, Cursor: len(user), AgentRegions: regions}, cfg)
	if strings.Contains(text, "AGENT") {
		t.Errorf("agent-authored text leaked into extraction: %q", text)
	}
	if !strings.Contains(text, "My own words") {
		t.Errorf("user text missing from extraction: %q", text)
	}
}

func TestExtract_RegionBoundaryMidRuneStaysValidUTF8(t *testing.T) {
	cfg := DefaultConfig()
	user := "Mes mots à moi d'abord. "
	agent := "SUGGESTION DE L'AGENT — émise ici."
	content := user + agent

	// Region start lands one byte inside the é of "émise".
	midRune := len(user) + strings.Index(agent, "émise") + 1
	regions := []Region{{Start: midRune, End: len(content)}}

	text, _ := Extract(SurfaceView{Content: content, Cursor: len(user), AgentRegions: regions}, cfg)
	if !utf8.ValidString(text) {
		t.Fatalf("extraction produced invalid UTF-8: %q", text)
	}
	if strings.Contains(text, "mise ici") {
		t.Errorf("agent-authored text leaked past a mid-rune boundary: %q", text)
	}
	if !strings.Contains(text, "Mes mots") {
		t.Errorf("user text missing from extraction: %q", text)
	}
}

func TestExtract_TruncatesToMaxLength(t *testing.T) {
	cfg := Config{MaxTextLength: 20, MinParagraphLength: 5}
	content := "This sentence is clearly longer than twenty characters."

	text, _ := Extract(SurfaceView{Content: content, Cursor: len(content)}, cfg.withDefaults())
	// withDefaults restores MaxTextLength only when unset; here it is 20.
	if len([]rune(text)) > 20 {
		t.Errorf("extraction exceeds max length: %d chars", len([]rune(text)))
	}
	if !strings.HasSuffix(content, text) {
		t.Errorf("truncation should keep the tail, got %q", text)
	}
}
