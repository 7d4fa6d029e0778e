package chat

import (
	"context"

	"github.com/daybreakhq/ensemble/analysisapi"
	"github.com/daybreakhq/ensemble/genapi"
	"github.com/daybreakhq/ensemble/room"
)

// Trigger names the external event that started a burst.
type Trigger string

const (
	TriggerPostCreated Trigger = "post_created"
	TriggerUserMessage Trigger = "user_message"
	TriggerIdleTick    Trigger = "idle_tick"
)

// LineRequest carries everything the generation collaborator needs to speak
// as one persona for one turn.
type LineRequest struct {
	RoomID          string
	PersonaID       string
	Intent          Intent
	TargetPersonaID string
	Context         ConvContext
	Recent          []room.Message
}

// LineGenerator abstracts the line-generation collaborator (for tests/mocks).
// Errors are recoverable: the turn is abandoned, the burst continues.
type LineGenerator interface {
	GenerateLine(ctx context.Context, req LineRequest) (string, error)
}

// ContextAnalyzer abstracts the content-analysis collaborator.
type ContextAnalyzer interface {
	Analyze(ctx context.Context, text string) (ConvContext, error)
}

// default implementations wrap the HTTP clients.
type genClientAdapter struct{ c *genapi.Client }

// NewGenerator adapts a genapi.Client to the LineGenerator interface.
func NewGenerator(c *genapi.Client) LineGenerator { return genClientAdapter{c: c} }

func (g genClientAdapter) GenerateLine(ctx context.Context, req LineRequest) (string, error) {
	recent := make([]genapi.Turn, 0, len(req.Recent))
	for _, m := range req.Recent {
		recent = append(recent, genapi.Turn{Author: m.AuthorID, Text: m.Text})
	}
	return g.c.GenerateLine(ctx, genapi.LineRequest{
		PersonaID:       req.PersonaID,
		Intent:          string(req.Intent),
		TargetPersonaID: req.TargetPersonaID,
		Tones:           req.Context.Tones,
		Subjects:        req.Context.Subjects,
		ContextTags:     req.Context.ContextTags,
		Recent:          recent,
	})
}

type analysisClientAdapter struct{ c *analysisapi.Client }

// NewAnalyzer adapts an analysisapi.Client to the ContextAnalyzer interface.
func NewAnalyzer(c *analysisapi.Client) ContextAnalyzer { return analysisClientAdapter{c: c} }

func (a analysisClientAdapter) Analyze(ctx context.Context, text string) (ConvContext, error) {
	res, err := a.c.Analyze(ctx, text)
	if err != nil {
		return ConvContext{}, err
	}
	return ConvContext{
		Sentiment: Sentiment{
			Positive: res.Sentiment.Positive,
			Neutral:  res.Sentiment.Neutral,
			Negative: res.Sentiment.Negative,
		},
		Tones:       res.Tones,
		Subjects:    res.Subjects,
		ContextTags: res.ContextTags,
	}, nil
}
