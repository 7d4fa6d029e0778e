package chat

import (
	"math/rand"
	"testing"

	"github.com/daybreakhq/ensemble/room"
)

func allEligible(string) bool { return true }

func personaStates(ids ...string) []room.PersonaState {
	out := make([]room.PersonaState, 0, len(ids))
	for _, id := range ids {
		out = append(out, room.PersonaState{ID: id})
	}
	return out
}

func TestPickIntentFollowsSentiment(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	positive := ConvContext{Sentiment: Sentiment{Positive: 0.7, Negative: 0.1}}
	for i := 0; i < 50; i++ {
		got := pickIntent(rng, positive)
		if got != IntentAsk && got != IntentShare {
			t.Fatalf("positive sentiment produced intent %q, want ask or share", got)
		}
	}

	negative := ConvContext{Sentiment: Sentiment{Positive: 0.1, Negative: 0.6}}
	for i := 0; i < 50; i++ {
		got := pickIntent(rng, negative)
		if got != IntentDisagree && got != IntentMeta {
			t.Fatalf("negative sentiment produced intent %q, want disagree or meta", got)
		}
	}

	// Zero net counts as non-negative.
	if got := pickIntent(rng, NeutralContext()); got != IntentAsk && got != IntentShare {
		t.Fatalf("neutral sentiment produced intent %q, want ask or share", got)
	}
}

func TestPickTarget(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	personas := personaStates("a", "b", "c")

	for i := 0; i < 30; i++ {
		got := pickTarget(rng, personas, "a")
		if got == "a" || got == "" {
			t.Fatalf("pickTarget returned %q, want one of the other personas", got)
		}
	}

	if got := pickTarget(rng, personaStates("solo"), "solo"); got != "" {
		t.Fatalf("pickTarget with a lone persona = %q, want empty", got)
	}
}

func TestPlanCandidatesAcceptanceGate(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	personas := personaStates("a", "b")

	below := planCandidates(rng, fixedScorer{0.25, 0.25, 0.25}, personas, allEligible, NeutralContext())
	if len(below) != 0 {
		t.Fatalf("scores below the gate produced %d candidates, want 0", len(below))
	}

	above := planCandidates(rng, fixedScorer{0.5, 0.5, 0.5}, personas, allEligible, NeutralContext())
	if len(above) != 2 {
		t.Fatalf("scores above the gate produced %d candidates, want 2", len(above))
	}
}

func TestPlanCandidatesRankingAndTruncation(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	personas := personaStates("low", "mid", "high", "top")
	scorer := perPersonaScorer{
		"low":  {0.5, 0.5, 0.5},
		"mid":  {0.6, 0.6, 0.6},
		"high": {0.8, 0.8, 0.8},
		"top":  {0.95, 0.95, 0.95},
	}

	got := planCandidates(rng, scorer, personas, allEligible, NeutralContext())
	if len(got) != maxCandidatesPerTurn {
		t.Fatalf("got %d candidates, want %d", len(got), maxCandidatesPerTurn)
	}
	if got[0].PersonaID != "top" || got[1].PersonaID != "high" {
		t.Fatalf("ranking = [%s %s], want [top high]", got[0].PersonaID, got[1].PersonaID)
	}
}

func TestPlanCandidatesRankWeights(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	personas := personaStates("relevant", "novel")
	// Relevance is weighted heaviest, so a relevance-dominant persona must
	// outrank a novelty-dominant one with the same total.
	scorer := perPersonaScorer{
		"relevant": {0.9, 0.5, 0.5},
		"novel":    {0.5, 0.5, 0.9},
	}

	got := planCandidates(rng, scorer, personas, allEligible, NeutralContext())
	if len(got) != 2 || got[0].PersonaID != "relevant" {
		t.Fatalf("candidates = %+v, want relevance-dominant persona first", got)
	}
}

func TestPlanCandidatesEligibility(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	personas := personaStates("a", "b", "c")
	eligible := func(id string) bool { return id != "b" }

	got := planCandidates(rng, fixedScorer{0.9, 0.9, 0.9}, personas, eligible, NeutralContext())
	for _, plan := range got {
		if plan.PersonaID == "b" {
			t.Fatal("ineligible persona made it into the candidate set")
		}
	}
	if len(got) == 0 {
		t.Fatal("eligible personas produced no candidates")
	}
}

func TestPlanCandidatesFillsPlanFields(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	cc := ConvContext{
		Sentiment: Sentiment{Positive: 0.8},
		Subjects:  []string{"synths", "tape loops"},
	}

	got := planCandidates(rng, fixedScorer{0.9, 0.8, 0.7}, personaStates("a", "b"), allEligible, cc)
	if len(got) == 0 {
		t.Fatal("no candidates")
	}
	p := got[0]
	if p.TargetPersonaID == "" || p.TargetPersonaID == p.PersonaID {
		t.Fatalf("target = %q, want a different persona", p.TargetPersonaID)
	}
	if len(p.TopicTags) != 2 {
		t.Fatalf("topic tags = %v, want the context subjects", p.TopicTags)
	}
	if p.Relevance != 0.9 || p.Energy != 0.8 || p.Novelty != 0.7 {
		t.Fatalf("scores not carried onto plan: %+v", p)
	}
	if p.Reason == "" {
		t.Fatal("reason left empty")
	}
}
