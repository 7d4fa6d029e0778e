package chat

import (
	"fmt"
	"math/rand"
	"sort"

	"github.com/daybreakhq/ensemble/room"
)

// Intent is the closed set of conversational moves a persona can plan.
type Intent string

const (
	IntentAgree    Intent = "agree"
	IntentDisagree Intent = "disagree"
	IntentAsk      Intent = "ask"
	IntentShare    Intent = "share"
	IntentJoke     Intent = "joke"
	IntentMeta     Intent = "meta"
)

// Sentiment is the normalized sentiment triple from the analysis collaborator.
// A reasonable collaborator keeps the components within [0,1] and roughly
// summing to 1, but the planner only relies on the positive-negative net.
type Sentiment struct {
	Positive float64 `json:"positive"`
	Neutral  float64 `json:"neutral"`
	Negative float64 `json:"negative"`
}

// Net returns positive minus negative.
func (s Sentiment) Net() float64 { return s.Positive - s.Negative }

// ConvContext is the burst-wide snapshot of "what's being discussed",
// derived once from recent room text and held fixed for every turn of the
// burst.
type ConvContext struct {
	Sentiment   Sentiment `json:"sentiment"`
	Tones       []string  `json:"tones"`
	Subjects    []string  `json:"subjects"`
	ContextTags []string  `json:"context_tags"`
}

// NeutralContext is the degraded fallback used when the analysis
// collaborator is unavailable.
func NeutralContext() ConvContext {
	return ConvContext{Sentiment: Sentiment{Neutral: 1}}
}

// PersonaPlan is one candidate's plan for a single turn. Plans are built
// fresh from the current room snapshot every turn and discarded afterwards.
type PersonaPlan struct {
	PersonaID       string
	Intent          Intent
	TargetPersonaID string
	TopicTags       []string
	Novelty         float64
	Relevance       float64
	Energy          float64
	// Reason is free text kept for observability only.
	Reason string
}

// rankScore applies the fixed relevance/energy/novelty weighting.
func (p PersonaPlan) rankScore() float64 {
	return 0.45*p.Relevance + 0.35*p.Energy + 0.2*p.Novelty
}

// acceptanceGate is the minimum summed score a plan needs to survive
// planning. The gate is deliberately noisy so participation varies from
// turn to turn instead of every persona always qualifying.
const acceptanceGate = 1.2

// maxCandidatesPerTurn truncates the ranked survivors.
const maxCandidatesPerTurn = 2

// Scorer produces the relevance/energy/novelty scores for a candidate. The
// default is noise-based; the interface exists so a learned or rule-based
// scorer can replace it without touching the turn loop.
type Scorer interface {
	Score(persona room.PersonaState, cc ConvContext) (relevance, energy, novelty float64)
}

// noiseScorer draws independent uniforms in [0,1) as a cheap stand-in for a
// real relevance model.
type noiseScorer struct {
	rng *rand.Rand
}

func (s noiseScorer) Score(room.PersonaState, ConvContext) (float64, float64, float64) {
	return s.rng.Float64(), s.rng.Float64(), s.rng.Float64()
}

// planCandidates synthesizes a plan for every eligible persona, applies the
// acceptance gate, and returns at most maxCandidatesPerTurn survivors ranked
// best first. eligible excludes the previous turn's speaker and anyone on
// cooldown; the caller passes that predicate.
func planCandidates(rng *rand.Rand, scorer Scorer, personas []room.PersonaState, eligible func(id string) bool, cc ConvContext) []PersonaPlan {
	plans := make([]PersonaPlan, 0, len(personas))
	for _, p := range personas {
		if !eligible(p.ID) {
			continue
		}
		intent := pickIntent(rng, cc)
		target := pickTarget(rng, personas, p.ID)
		rel, energy, novelty := scorer.Score(p, cc)
		if novelty+rel+energy <= acceptanceGate {
			continue
		}
		plans = append(plans, PersonaPlan{
			PersonaID:       p.ID,
			Intent:          intent,
			TargetPersonaID: target,
			TopicTags:       cc.Subjects,
			Novelty:         novelty,
			Relevance:       rel,
			Energy:          energy,
			Reason:          fmt.Sprintf("net sentiment %.2f -> %s (r=%.2f e=%.2f n=%.2f)", cc.Sentiment.Net(), intent, rel, energy, novelty),
		})
	}
	sort.SliceStable(plans, func(i, j int) bool { return plans[i].rankScore() > plans[j].rankScore() })
	if len(plans) > maxCandidatesPerTurn {
		plans = plans[:maxCandidatesPerTurn]
	}
	return plans
}

// pickIntent chooses contextually: non-negative net sentiment leans toward
// keeping the thread going (ask/share), negative toward pushback
// (disagree/meta).
func pickIntent(rng *rand.Rand, cc ConvContext) Intent {
	if cc.Sentiment.Net() >= 0 {
		if rng.Intn(2) == 0 {
			return IntentAsk
		}
		return IntentShare
	}
	if rng.Intn(2) == 0 {
		return IntentDisagree
	}
	return IntentMeta
}

// pickTarget selects a dialogue target uniformly at random from the other
// active personas, or "" when the speaker is alone.
func pickTarget(rng *rand.Rand, personas []room.PersonaState, selfID string) string {
	others := make([]string, 0, len(personas))
	for _, p := range personas {
		if p.ID != selfID {
			others = append(others, p.ID)
		}
	}
	if len(others) == 0 {
		return ""
	}
	return others[rng.Intn(len(others))]
}
