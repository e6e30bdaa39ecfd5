package editorctx

import (
	"log/slog"
	"sync"

	"github.com/voxide-dev/voxide/pkg/bridge/protocol"
)

// Tracker owns the pending context snapshot and the injection bookkeeping
// for one session. Two call sites touch it: the inbound router (Update) and
// the turn orchestrator (speech-start, inject, reset); they run on different
// goroutines, so all state is guarded by one mutex.
type Tracker struct {
	logger *slog.Logger

	mu               sync.Mutex
	pending          Snapshot
	pendingFP        string
	lastInjectedFP   string
	speechStarted    bool
	injectedThisTurn bool

	// Latest selection and tree are retained independently of pending so
	// the get_editor_context tool can report both at once.
	selection    *protocol.SelectionData
	tree         *protocol.TreeData
	receivedSeen int
	injectedSeen int
}

func NewTracker(logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{logger: logger}
}

// Update replaces the pending snapshot if its fingerprint differs from the
// current pending one. Returns false for a no-op (duplicate) update. The
// last-injected fingerprint is never touched here.
func (t *Tracker) Update(snap Snapshot) bool {
	if t == nil || snap == nil {
		return false
	}
	fp := snap.Fingerprint()

	t.mu.Lock()
	defer t.mu.Unlock()

	t.receivedSeen++
	if fp == t.pendingFP {
		t.logger.Debug("context unchanged", "kind", snap.Kind(), "fingerprint", fp)
		return false
	}

	t.pending = snap
	t.pendingFP = fp
	switch s := snap.(type) {
	case Selection:
		data := s.Data
		t.selection = &data
	case Tree:
		data := s.Data
		t.tree = &data
	}
	t.logger.Info("context updated",
		"kind", snap.Kind(),
		"fingerprint", fp,
		"received_count", t.receivedSeen,
	)
	return true
}

// OnUserSpeechStarted marks the start of a user utterance. Idempotent within
// a turn; injection itself is driven by the orchestrator so it can order the
// emit against its other turn-start effects.
func (t *Tracker) OnUserSpeechStarted() {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.speechStarted {
		return
	}
	t.speechStarted = true
	t.logger.Info("user speech started",
		"pending", t.pending != nil,
		"pending_fingerprint", t.pendingFP,
		"last_injected", t.lastInjectedFP,
	)
}

// SpeechStarted reports whether a user utterance is in progress this turn.
func (t *Tracker) SpeechStarted() bool {
	if t == nil {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.speechStarted
}

// InjectIfNeeded emits the pending snapshot as a model-facing text block,
// at most once per turn and never for a fingerprint that was already
// injected, even in an earlier turn. Returns true if a block was emitted.
func (t *Tracker) InjectIfNeeded(emit func(text string) error) bool {
	if t == nil || emit == nil {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.pending == nil {
		t.logger.Debug("no pending context to inject")
		return false
	}
	if t.injectedThisTurn {
		return false
	}
	if t.pendingFP == t.lastInjectedFP {
		t.logger.Debug("context already injected", "fingerprint", t.pendingFP)
		return false
	}

	text := t.pending.FormatForModel()
	if text == "" {
		return false
	}
	if err := emit(text); err != nil {
		t.logger.Error("context injection failed", "error", err)
		return false
	}

	t.lastInjectedFP = t.pendingFP
	t.injectedThisTurn = true
	t.injectedSeen++
	t.logger.Info("context injected",
		"kind", t.pending.Kind(),
		"fingerprint", t.pendingFP,
		"total_injections", t.injectedSeen,
		"text_len", len(text),
	)
	return true
}

// ResetForTurnEnd clears the per-turn flags. The pending snapshot and the
// last-injected fingerprint survive, so identical context is not re-sent in
// the next turn.
func (t *Tracker) ResetForTurnEnd() {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.speechStarted = false
	t.injectedThisTurn = false
}

// CurrentSelection returns the most recent selection payload, if any.
func (t *Tracker) CurrentSelection() (protocol.SelectionData, bool) {
	if t == nil {
		return protocol.SelectionData{}, false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.selection == nil {
		return protocol.SelectionData{}, false
	}
	return *t.selection, true
}

// CurrentTree returns the most recent workspace tree payload, if any.
func (t *Tracker) CurrentTree() (protocol.TreeData, bool) {
	if t == nil {
		return protocol.TreeData{}, false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.tree == nil {
		return protocol.TreeData{}, false
	}
	return *t.tree, true
}
