package editorctx

import (
	"testing"

	"pgregory.net/rapid"
)

// Drives a tracker with a random interleaving of context updates, speech
// starts, inject attempts, and turn ends, and checks the injection
// invariants: at most one emit per turn, and never two consecutive emits of
// the same fingerprint.
func TestTracker_InjectionInvariants(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		tr := NewTracker(nil)

		var emittedThisTurn int
		var lastEmittedFP string
		files := []string{"a.go", "b.go"}
		texts := []string{"x = 1", "x = 2", "y()"}

		steps := rapid.IntRange(1, 60).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			switch rapid.IntRange(0, 3).Draw(rt, "op") {
			case 0:
				snap := selection(
					rapid.SampledFrom(files).Draw(rt, "file"),
					"go",
					rapid.SampledFrom(texts).Draw(rt, "text"),
					rapid.IntRange(0, 50).Draw(rt, "start"),
					rapid.IntRange(0, 50).Draw(rt, "end"),
				)
				before := snap.Fingerprint()
				changed := tr.Update(snap)
				again := tr.Update(snap)
				if again {
					rt.Fatalf("second identical update must return false (fp=%s, first=%v)", before, changed)
				}
			case 1:
				tr.OnUserSpeechStarted()
			case 2:
				var fp string
				emitted := tr.InjectIfNeeded(func(text string) error {
					fp = text
					return nil
				})
				if emitted {
					emittedThisTurn++
					if emittedThisTurn > 1 {
						rt.Fatalf("more than one injection in a single turn")
					}
					if fp == lastEmittedFP {
						rt.Fatalf("re-injected identical context block")
					}
					lastEmittedFP = fp
				}
			case 3:
				tr.ResetForTurnEnd()
				emittedThisTurn = 0
			}
		}
	})
}

// A duplicate update never creates a fresh injection opportunity: after an
// inject + turn end, resending the same payload does not lead to an emit.
func TestTracker_DuplicateAfterTurnEndNeverReinjects(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		tr := NewTracker(nil)
		snap := selection("main.go", "go",
			rapid.StringN(1, 80, -1).Draw(rt, "text"), 0, 4)

		tr.Update(snap)
		tr.OnUserSpeechStarted()
		if !tr.InjectIfNeeded(func(string) error { return nil }) {
			rt.Fatalf("initial inject must emit")
		}
		tr.ResetForTurnEnd()

		tr.Update(snap) // duplicate, returns false
		tr.OnUserSpeechStarted()
		if tr.InjectIfNeeded(func(string) error { return nil }) {
			rt.Fatalf("duplicate payload must not re-inject after turn end")
		}
	})
}
