package chat

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"github.com/daybreakhq/ensemble/config"
	"github.com/daybreakhq/ensemble/room"
)

// fakeClock is a manually advanced clock shared between a registry and an
// orchestrator so cooldown and pacing tests are deterministic.
type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func testPolicy() config.AutoChatPolicy {
	return config.AutoChatPolicy{
		MaxTurnsPerBurst:     3,
		MaxConsecutiveBySame: 1,
		MinBurstInterval:     0,
		PerPersonaCooldown:   0,
		SimilarityThreshold:  1.1, // guard effectively off
	}
}

// uniqueLines generates a distinct line per call so the repetition guard
// never trips.
func uniqueLines() (LineGenerator, *atomic.Int64) {
	var calls atomic.Int64
	gen := stubGenerator(func(ctx context.Context, req LineRequest) (string, error) {
		n := calls.Add(1)
		return fmt.Sprintf("take %d from %s about tape machines", n, req.PersonaID), nil
	})
	return gen, &calls
}

func newTestOrchestrator(t *testing.T, policy config.AutoChatPolicy, gen LineGenerator, personas ...string) (*Orchestrator, *room.Registry, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	reg := room.NewRegistry(nil)
	reg.SetNow(clock.Now)
	if _, err := reg.CreateRoom("r1", personas, nil); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	o := NewOrchestrator("r1", reg, policy, gen, nil)
	o.now = clock.Now
	o.rng = rand.New(rand.NewSource(11))
	o.SetScorer(fixedScorer{0.9, 0.9, 0.9})
	return o, reg, clock
}

func TestRunBurstCommitsBoundedAlternatingTurns(t *testing.T) {
	gen, _ := uniqueLines()
	o, reg, _ := newTestOrchestrator(t, testPolicy(), gen, "a", "b", "c")

	got := o.RunBurst(context.Background(), TriggerPostCreated)
	if got != 3 {
		t.Fatalf("RunBurst committed %d, want 3", got)
	}

	msgs := reg.LastMessages("r1", 10)
	if len(msgs) != 3 {
		t.Fatalf("room holds %d messages, want 3", len(msgs))
	}
	for i := 1; i < len(msgs); i++ {
		if msgs[i].AuthorID == msgs[i-1].AuthorID {
			t.Fatalf("messages %d and %d share author %q", i-1, i, msgs[i].AuthorID)
		}
	}
	for _, m := range msgs {
		if m.FromUser {
			t.Fatal("autonomous message flagged as user-authored")
		}
		if m.ID == "" || m.CreatedAt.IsZero() {
			t.Fatalf("message missing id or timestamp: %+v", m)
		}
	}
}

func TestRunBurstRespectsMaxTurns(t *testing.T) {
	policy := testPolicy()
	policy.MaxTurnsPerBurst = 2
	gen, _ := uniqueLines()
	o, reg, _ := newTestOrchestrator(t, policy, gen, "a", "b", "c")

	if got := o.RunBurst(context.Background(), TriggerUserMessage); got != 2 {
		t.Fatalf("RunBurst committed %d, want 2", got)
	}
	if n := len(reg.LastMessages("r1", 10)); n != 2 {
		t.Fatalf("room holds %d messages, want 2", n)
	}
}

func TestRunBurstSkipsDisabledRoom(t *testing.T) {
	gen, calls := uniqueLines()
	o, reg, _ := newTestOrchestrator(t, testPolicy(), gen, "a", "b")
	reg.SetAutoChat("r1", false)

	if got := o.RunBurst(context.Background(), TriggerPostCreated); got != 0 {
		t.Fatalf("RunBurst on disabled room committed %d, want 0", got)
	}
	if calls.Load() != 0 {
		t.Fatalf("generator called %d times for a disabled room, want 0", calls.Load())
	}
	if n := len(reg.LastMessages("r1", 10)); n != 0 {
		t.Fatalf("disabled room gained %d messages", n)
	}
}

func TestRunBurstSkipsMissingRoom(t *testing.T) {
	gen, calls := uniqueLines()
	o, reg, _ := newTestOrchestrator(t, testPolicy(), gen, "a", "b")
	reg.RemoveRoom("r1")

	if got := o.RunBurst(context.Background(), TriggerIdleTick); got != 0 {
		t.Fatalf("RunBurst on removed room committed %d, want 0", got)
	}
	if calls.Load() != 0 {
		t.Fatal("generator called for a removed room")
	}
}

func TestRunBurstMinIntervalSkip(t *testing.T) {
	policy := testPolicy()
	policy.MinBurstInterval = time.Minute
	gen, _ := uniqueLines()
	o, _, clock := newTestOrchestrator(t, policy, gen, "a", "b", "c")

	if got := o.RunBurst(context.Background(), TriggerPostCreated); got != 3 {
		t.Fatalf("first burst committed %d, want 3", got)
	}
	first := o.lastBurstAt

	clock.Advance(30 * time.Second)
	if got := o.RunBurst(context.Background(), TriggerUserMessage); got != 0 {
		t.Fatalf("rate-limited burst committed %d, want 0", got)
	}
	// A skipped burst must not count as a burst for pacing.
	if !o.lastBurstAt.Equal(first) {
		t.Fatalf("skipped burst advanced lastBurstAt from %v to %v", first, o.lastBurstAt)
	}

	clock.Advance(31 * time.Second)
	if got := o.RunBurst(context.Background(), TriggerUserMessage); got == 0 {
		t.Fatal("burst after the interval elapsed still skipped")
	}
}

func TestRunBurstRepetitionGuardTerminates(t *testing.T) {
	policy := testPolicy()
	policy.SimilarityThreshold = 0.5
	var calls atomic.Int64
	same := stubGenerator(func(context.Context, LineRequest) (string, error) {
		calls.Add(1)
		return "the same line every time", nil
	})
	o, reg, _ := newTestOrchestrator(t, policy, same, "a", "b", "c")

	got := o.RunBurst(context.Background(), TriggerPostCreated)
	if got != 1 {
		t.Fatalf("duplicate-only burst committed %d, want exactly the first line", got)
	}
	// Terminates via the discard cap rather than looping forever.
	maxCalls := int64(1 + policy.MaxTurnsPerBurst*2)
	if calls.Load() > maxCalls {
		t.Fatalf("generator called %d times, want at most %d", calls.Load(), maxCalls)
	}
	if n := len(reg.LastMessages("r1", 10)); n != 1 {
		t.Fatalf("room holds %d messages, want 1", n)
	}
}

func TestRunBurstSinglePersonaRoom(t *testing.T) {
	gen, _ := uniqueLines()
	o, reg, _ := newTestOrchestrator(t, testPolicy(), gen, "solo")

	// The lone persona can open, but can never follow itself.
	if got := o.RunBurst(context.Background(), TriggerPostCreated); got != 1 {
		t.Fatalf("single-persona burst committed %d, want 1", got)
	}
	if n := len(reg.LastMessages("r1", 10)); n != 1 {
		t.Fatalf("room holds %d messages, want 1", n)
	}
}

func TestRunBurstEmptyRoomNoop(t *testing.T) {
	gen, calls := uniqueLines()
	o, _, _ := newTestOrchestrator(t, testPolicy(), gen)

	if got := o.RunBurst(context.Background(), TriggerPostCreated); got != 0 {
		t.Fatalf("empty room burst committed %d, want 0", got)
	}
	if calls.Load() != 0 {
		t.Fatal("generator called with no personas in the room")
	}
}

func TestRunBurstPersonaCooldown(t *testing.T) {
	policy := testPolicy()
	policy.PerPersonaCooldown = 30 * time.Second
	gen, _ := uniqueLines()
	o, _, clock := newTestOrchestrator(t, policy, gen, "a", "b")

	// Both personas speak once, then everyone is cooling.
	if got := o.RunBurst(context.Background(), TriggerPostCreated); got != 2 {
		t.Fatalf("first burst committed %d, want 2", got)
	}
	if got := o.RunBurst(context.Background(), TriggerUserMessage); got != 0 {
		t.Fatalf("burst during cooldown committed %d, want 0", got)
	}

	clock.Advance(31 * time.Second)
	if got := o.RunBurst(context.Background(), TriggerUserMessage); got == 0 {
		t.Fatal("burst after cooldown expiry committed nothing")
	}
}

func TestRunBurstGenerationFailure(t *testing.T) {
	var calls atomic.Int64
	failing := stubGenerator(func(context.Context, LineRequest) (string, error) {
		calls.Add(1)
		return "", errors.New("upstream unavailable")
	})
	o, reg, _ := newTestOrchestrator(t, testPolicy(), failing, "a", "b", "c")

	if got := o.RunBurst(context.Background(), TriggerPostCreated); got != 0 {
		t.Fatalf("all-failing burst committed %d, want 0", got)
	}
	if n := len(reg.LastMessages("r1", 10)); n != 0 {
		t.Fatalf("failed generations still appended %d messages", n)
	}
	if calls.Load() > int64(testPolicy().MaxTurnsPerBurst*2) {
		t.Fatalf("generator retried %d times, want discard-capped", calls.Load())
	}
}

func TestRunBurstBlankLineDiscarded(t *testing.T) {
	blank := stubGenerator(func(context.Context, LineRequest) (string, error) {
		return "   \n", nil
	})
	o, reg, _ := newTestOrchestrator(t, testPolicy(), blank, "a", "b")

	if got := o.RunBurst(context.Background(), TriggerPostCreated); got != 0 {
		t.Fatalf("blank-line burst committed %d, want 0", got)
	}
	if n := len(reg.LastMessages("r1", 10)); n != 0 {
		t.Fatalf("blank lines appended %d messages", n)
	}
}

func TestRunBurstDerivesContextOncePerBurst(t *testing.T) {
	analyzer := &stubAnalyzer{cc: ConvContext{Sentiment: Sentiment{Positive: 0.9}}}
	gen, _ := uniqueLines()
	o, _, _ := newTestOrchestrator(t, testPolicy(), gen, "a", "b", "c")
	o.analyzer = analyzer

	o.RunBurst(context.Background(), TriggerPostCreated)
	if analyzer.calls != 1 {
		t.Fatalf("analyzer called %d times across one burst, want 1", analyzer.calls)
	}
}

func TestRunBurstAnalysisFailureFallsBackToNeutral(t *testing.T) {
	analyzer := &stubAnalyzer{err: errors.New("analysis down")}
	var sawIntent Intent
	gen := stubGenerator(func(_ context.Context, req LineRequest) (string, error) {
		sawIntent = req.Intent
		return "still talking despite analysis being down " + req.PersonaID, nil
	})
	o, _, _ := newTestOrchestrator(t, testPolicy(), gen, "a", "b", "c")
	o.analyzer = analyzer

	if got := o.RunBurst(context.Background(), TriggerPostCreated); got != 3 {
		t.Fatalf("burst with failing analyzer committed %d, want 3", got)
	}
	// Neutral net sentiment keeps intents on the non-negative branch.
	if sawIntent != IntentAsk && sawIntent != IntentShare {
		t.Fatalf("intent under neutral fallback = %q, want ask or share", sawIntent)
	}
}

func TestMonopolizationGuard(t *testing.T) {
	policy := testPolicy()
	policy.MaxConsecutiveBySame = 2
	gen, _ := uniqueLines()
	o, reg, _ := newTestOrchestrator(t, policy, gen, "a", "b")

	// Seed two consecutive messages from one author; the next commit keeps
	// the streak broken because selection already excludes the last speaker,
	// but the guard must read the seeded history correctly.
	ctx := context.Background()
	reg.AddMessage(ctx, "r1", room.Message{AuthorID: "a", Text: "one"})
	reg.AddMessage(ctx, "r1", room.Message{AuthorID: "a", Text: "two"})
	if !o.monopolized() {
		t.Fatal("two consecutive messages by the same author not detected")
	}

	reg.AddMessage(ctx, "r1", room.Message{AuthorID: "b", Text: "three"})
	if o.monopolized() {
		t.Fatal("streak counted as monopolized after another author spoke")
	}

	// A cap of 1 disables the guard entirely; selection enforces it instead.
	o.policy.MaxConsecutiveBySame = 1
	if o.monopolized() {
		t.Fatal("guard active for cap below 2")
	}
}

func TestGenerateRequestCarriesRecentTranscript(t *testing.T) {
	var got LineRequest
	gen := stubGenerator(func(_ context.Context, req LineRequest) (string, error) {
		got = req
		return "a fresh observation about the room", nil
	})
	o, reg, _ := newTestOrchestrator(t, testPolicy(), gen, "a", "b")
	ctx := context.Background()
	for i := 0; i < 15; i++ {
		reg.AddMessage(ctx, "r1", room.Message{AuthorID: "user-1", Text: fmt.Sprintf("human line %d", i), FromUser: true})
	}

	policy := testPolicy()
	policy.MaxTurnsPerBurst = 1
	o.policy = policy
	if n := o.RunBurst(ctx, TriggerUserMessage); n != 1 {
		t.Fatalf("burst committed %d, want 1", n)
	}
	if got.RoomID != "r1" {
		t.Fatalf("request room = %q, want r1", got.RoomID)
	}
	if len(got.Recent) != contextWindow {
		t.Fatalf("request carries %d recent messages, want %d", len(got.Recent), contextWindow)
	}
	if got.Recent[len(got.Recent)-1].Text != "human line 14" {
		t.Fatalf("recent window not newest-tailed: last = %q", got.Recent[len(got.Recent)-1].Text)
	}
}
