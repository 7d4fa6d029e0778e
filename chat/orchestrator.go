package chat

import (
	"context"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/daybreakhq/ensemble/config"
	"github.com/daybreakhq/ensemble/room"
	"github.com/daybreakhq/ensemble/telemetry"
)

const (
	// contextWindow is how many recent messages feed context derivation and
	// line generation.
	contextWindow = 12
	// guardWindow is how many recent messages the repetition guard compares
	// a candidate line against.
	guardWindow = 6
	// turnOverhead pads the per-burst wall-clock ceiling beyond generation
	// timeouts (scoring, similarity, commits).
	turnOverhead = 2 * time.Second
)

// Orchestrator drives bounded bursts of autonomous turns for a single room.
// It is stateless across invocations except for burst-rate and cooldown
// bookkeeping; the room itself is only read and appended to through the
// registry. One orchestrator per room; reuse it so pacing state survives
// between triggers.
type Orchestrator struct {
	roomID   string
	reg      *room.Registry
	policy   config.AutoChatPolicy
	gen      LineGenerator
	analyzer ContextAnalyzer

	scorer          Scorer
	rng             *rand.Rand
	genTimeout      time.Duration
	analysisTimeout time.Duration
	now             func() time.Time
	logger          *slog.Logger

	mu            sync.Mutex
	lastBurstAt   time.Time
	cooldownUntil map[string]time.Time
}

// NewOrchestrator builds an orchestrator for one room. policy is copied, so
// later changes to the caller's value cannot affect a burst in progress.
// analyzer may be nil; context derivation then degrades to a neutral snapshot.
func NewOrchestrator(roomID string, reg *room.Registry, policy config.AutoChatPolicy, gen LineGenerator, analyzer ContextAnalyzer) *Orchestrator {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	return &Orchestrator{
		roomID:          roomID,
		reg:             reg,
		policy:          policy,
		gen:             gen,
		analyzer:        analyzer,
		scorer:          noiseScorer{rng: rng},
		rng:             rng,
		genTimeout:      20 * time.Second,
		analysisTimeout: 10 * time.Second,
		now:             time.Now,
		cooldownUntil:   make(map[string]time.Time),
		logger:          slog.Default().With(slog.String("room_id", roomID), slog.String("component", "orchestrator")),
	}
}

// SetScorer replaces the candidate scorer (pluggable relevance model).
func (o *Orchestrator) SetScorer(s Scorer) { o.scorer = s }

// SetGenTimeout overrides the per-call generation timeout.
func (o *Orchestrator) SetGenTimeout(d time.Duration) { o.genTimeout = d }

// RunBurst runs one bounded burst of turns and returns the number of
// committed messages. It never returns an error: every turn-level failure
// degrades to "no message this turn".
//
// The burst is skipped whole when the room is missing, auto-chat is
// disabled, or less than the policy's minimum interval has passed since the
// previous burst started. On an accepted burst lastBurstAt is advanced
// before any collaborator work so a concurrent direct caller cannot start
// an overlapping one (the dispatcher additionally serializes bursts per
// room).
func (o *Orchestrator) RunBurst(ctx context.Context, trigger Trigger) int {
	enabled, ok := o.reg.AutoChatEnabled(o.roomID)
	if !ok {
		o.logger.Debug("burst skipped: room not found", slog.String("trigger", string(trigger)))
		return 0
	}
	if !enabled {
		o.logger.Debug("burst skipped: auto chat disabled", slog.String("trigger", string(trigger)))
		return 0
	}

	o.mu.Lock()
	now := o.now()
	if o.policy.MinBurstInterval > 0 && !o.lastBurstAt.IsZero() && now.Sub(o.lastBurstAt) < o.policy.MinBurstInterval {
		o.mu.Unlock()
		telemetry.BurstsSkipped.Inc()
		o.logger.Debug("burst skipped: rate limited", slog.String("trigger", string(trigger)), slog.Time("last_burst_at", o.lastBurstAt))
		return 0
	}
	o.lastBurstAt = now
	o.mu.Unlock()

	ctx, span := telemetry.StartSpan(ctx, "chat", "run_burst",
		telemetry.RoomAttr(o.roomID),
		telemetry.TriggerAttr(string(trigger)),
	)
	defer span.End()

	telemetry.BurstsStarted.Inc()
	telemetry.BurstInFlight(1)
	burstStart := time.Now()
	defer func() {
		telemetry.BurstInFlight(-1)
		if telemetry.BurstDuration != nil {
			telemetry.BurstDuration.Observe(time.Since(burstStart).Seconds())
		}
	}()

	cc := o.deriveContext(ctx, span)

	// Wall-clock ceiling so a stalled collaborator cannot pin the worker.
	ceiling := time.Duration(o.policy.MaxTurnsPerBurst) * (o.genTimeout + turnOverhead)
	bctx, cancel := context.WithTimeout(ctx, ceiling)
	defer cancel()

	committed := o.turnLoop(bctx, cc)
	telemetry.SetSpanSuccess(span)
	o.logger.Info("burst finished",
		slog.String("trigger", string(trigger)),
		slog.Int("committed", committed),
		slog.Duration("elapsed", time.Since(burstStart)),
	)
	return committed
}

// deriveContext reads the recent transcript once and asks the analysis
// collaborator for sentiment and tags. The snapshot is fixed for the whole
// burst; analysis failure degrades to a neutral context.
func (o *Orchestrator) deriveContext(ctx context.Context, span trace.Span) ConvContext {
	if o.analyzer == nil {
		return NeutralContext()
	}
	recent := o.reg.LastMessages(o.roomID, contextWindow)
	var b strings.Builder
	for _, m := range recent {
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(m.Text)
	}
	actx, cancel := context.WithTimeout(ctx, o.analysisTimeout)
	defer cancel()
	cc, err := o.analyzer.Analyze(actx, b.String())
	if err != nil {
		telemetry.AnalysisFailures.Inc()
		telemetry.RecordError(span, err)
		o.logger.Warn("context analysis failed; using neutral context", slog.Any("err", err))
		return NeutralContext()
	}
	return cc
}

// turnLoop runs turns until the turn cap, the discard-retry cap, the burst
// deadline, or candidate exhaustion ends the burst.
func (o *Orchestrator) turnLoop(ctx context.Context, cc ConvContext) int {
	committed := 0
	discards := 0
	// The reference behavior leaves similarity-discard retries unbounded;
	// cap them so a room where every candidate is near-duplicate still
	// terminates.
	maxDiscards := o.policy.MaxTurnsPerBurst * 2
	lastSpeaker := ""

	for committed < o.policy.MaxTurnsPerBurst {
		if ctx.Err() != nil {
			o.logger.Warn("burst deadline reached", slog.Int("committed", committed))
			break
		}
		personas, ok := o.reg.ActivePersonas(o.roomID)
		if !ok {
			break
		}

		now := o.now()
		eligible := func(id string) bool {
			if id == lastSpeaker {
				return false
			}
			o.mu.Lock()
			until, cooling := o.cooldownUntil[id]
			o.mu.Unlock()
			return !cooling || !now.Before(until)
		}
		// Zero-candidate rounds are normal termination, not an error.
		candidates := planCandidates(o.rng, o.scorer, personas, eligible, cc)
		var plan *PersonaPlan
		for i := range candidates {
			if candidates[i].PersonaID != lastSpeaker {
				plan = &candidates[i]
				break
			}
		}
		if plan == nil {
			break
		}

		line, err := o.generate(ctx, *plan, cc)
		if err != nil || strings.TrimSpace(line) == "" {
			// Cool the speaker down so a failing persona is not hot-looped.
			telemetry.GenerationFailures.Inc()
			o.coolDown(plan.PersonaID)
			o.reg.RecordPersonaTurn(o.roomID, plan.PersonaID)
			o.logger.Warn("line generation failed; turn abandoned",
				slog.String("persona_id", plan.PersonaID), slog.Any("err", err))
			discards++
			if discards >= maxDiscards {
				break
			}
			continue
		}

		if sim := o.recentSimilarity(line); sim >= o.policy.SimilarityThreshold {
			telemetry.LinesDiscarded.Inc()
			o.coolDown(plan.PersonaID)
			o.reg.RecordPersonaTurn(o.roomID, plan.PersonaID)
			o.logger.Debug("line discarded by repetition guard",
				slog.String("persona_id", plan.PersonaID), slog.Float64("similarity", sim))
			discards++
			if discards >= maxDiscards {
				o.logger.Warn("discard-retry cap reached; ending burst", slog.Int("discards", discards))
				break
			}
			continue
		}

		if !o.reg.AddMessage(ctx, o.roomID, room.Message{AuthorID: plan.PersonaID, Text: line}) {
			// Room removed mid-burst.
			break
		}
		o.coolDown(plan.PersonaID)
		lastSpeaker = plan.PersonaID
		committed++
		telemetry.TurnsCommitted.Inc()
		o.logger.Debug("turn committed",
			slog.String("persona_id", plan.PersonaID),
			slog.String("intent", string(plan.Intent)),
			slog.String("reason", plan.Reason),
		)

		if o.monopolized() {
			o.logger.Info("monopolization guard tripped; ending burst", slog.String("persona_id", plan.PersonaID))
			break
		}
	}
	return committed
}

func (o *Orchestrator) generate(ctx context.Context, plan PersonaPlan, cc ConvContext) (string, error) {
	gctx, cancel := context.WithTimeout(ctx, o.genTimeout)
	defer cancel()
	start := time.Now()
	line, err := o.gen.GenerateLine(gctx, LineRequest{
		RoomID:          o.roomID,
		PersonaID:       plan.PersonaID,
		Intent:          plan.Intent,
		TargetPersonaID: plan.TargetPersonaID,
		Context:         cc,
		Recent:          o.reg.LastMessages(o.roomID, contextWindow),
	})
	if telemetry.GenerationDuration != nil {
		telemetry.GenerationDuration.Observe(time.Since(start).Seconds())
	}
	return line, err
}

// recentSimilarity compares a candidate line against the concatenation of
// the last guardWindow room messages.
func (o *Orchestrator) recentSimilarity(line string) float64 {
	recent := o.reg.LastMessages(o.roomID, guardWindow)
	var b strings.Builder
	for _, m := range recent {
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(m.Text)
	}
	return Similarity(line, b.String())
}

func (o *Orchestrator) coolDown(personaID string) {
	o.mu.Lock()
	o.cooldownUntil[personaID] = o.now().Add(o.policy.PerPersonaCooldown)
	o.mu.Unlock()
}

// monopolized reports whether the last MaxConsecutiveBySame room messages
// all belong to one persona. A cap of 1 is already structurally enforced by
// speaker selection (the previous speaker is never eligible), so the early
// exit only applies for caps of 2 or more; otherwise every burst would end
// after its first commit.
func (o *Orchestrator) monopolized() bool {
	n := o.policy.MaxConsecutiveBySame
	if n < 2 {
		return false
	}
	last := o.reg.LastMessages(o.roomID, n)
	if len(last) < n {
		return false
	}
	author := last[0].AuthorID
	for _, m := range last[1:] {
		if m.AuthorID != author {
			return false
		}
	}
	return true
}
