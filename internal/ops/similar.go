package ops

import (
	"context"
	stderrors "errors"
	"strings"

	"github.com/aimi/goalgraph/internal/config"
	"github.com/aimi/goalgraph/internal/db"
	"github.com/aimi/goalgraph/internal/errors"
	"github.com/aimi/goalgraph/internal/goal"
	"github.com/aimi/goalgraph/internal/similarity"
)

// SimilarInput contains parameters for the FindSimilar operation.
type SimilarInput struct {
	GoalID string `json:"goal_id" validate:"required"`

	// TopK 0 means cfg.SimilarityTopK.
	TopK int `json:"top_k" validate:"omitempty,min=1,max=50"`

	// Threshold nil means cfg.SimilarityThreshold.
	Threshold *float64 `json:"threshold" validate:"omitempty,min=-1,max=1"`
}

// SimilarTextInput contains parameters for the FindSimilarText operation.
type SimilarTextInput struct {
	UserID    string   `json:"user_id" validate:"required,uuid"`
	Text      string   `json:"text" validate:"required,max=4000"`
	TopK      int      `json:"top_k" validate:"omitempty,min=1,max=50"`
	Threshold *float64 `json:"threshold" validate:"omitempty,min=-1,max=1"`
}

// SimilarGoal is one match of a similarity search.
type SimilarGoal struct {
	Goal  goal.Goal `json:"goal"`
	Score float64   `json:"score"`
}

var errNoEmbedder = stderrors.New("no embedding provider configured")

// FindSimilar returns the user's goals most similar to the given goal, best
// first. The goal's embedding is generated on demand when it is missing or
// stale; every other goal is compared through its active embedding.
func (e *Engine) FindSimilar(ctx context.Context, input SimilarInput) ([]SimilarGoal, error) {
	if err := validateInput(input); err != nil {
		return nil, err
	}
	g, err := db.GetGoal(ctx, e.db, input.GoalID)
	if err != nil {
		return nil, err
	}
	if err := requireLive(g); err != nil {
		return nil, err
	}

	emb, err := e.RefreshEmbedding(ctx, input.GoalID)
	if err != nil {
		return nil, err
	}
	return e.search(ctx, g.UserID, similarity.Query{
		Vector:    emb.Embedding.Vector,
		Exclude:   g.ID,
		TopK:      e.topK(input.TopK),
		Threshold: e.threshold(input.Threshold),
	})
}

// FindSimilarText embeds free text and returns the user's goals most similar
// to it. The chat layer calls it before creating a goal to spot duplicates.
func (e *Engine) FindSimilarText(ctx context.Context, input SimilarTextInput) ([]SimilarGoal, error) {
	input.Text = strings.TrimSpace(input.Text)
	if err := validateInput(input); err != nil {
		return nil, err
	}
	if e.embedder == nil {
		return nil, errors.NewProviderUnavailable("embed", errNoEmbedder)
	}
	vec, err := e.embedder.Embed(ctx, goal.PlainText(input.Text))
	if err != nil {
		return nil, providerError("embed", err)
	}
	return e.search(ctx, input.UserID, similarity.Query{
		Vector:    vec,
		TopK:      e.topK(input.TopK),
		Threshold: e.threshold(input.Threshold),
	})
}

func (e *Engine) search(ctx context.Context, userID string, q similarity.Query) ([]SimilarGoal, error) {
	candidates, err := db.ListActiveEmbeddings(ctx, e.db, userID)
	if err != nil {
		return nil, err
	}
	matches := similarity.Search(q, candidates)
	out := make([]SimilarGoal, 0, len(matches))
	for _, m := range matches {
		g, err := db.GetGoal(ctx, e.db, m.GoalID)
		if err != nil {
			if errors.Is(err, errors.ErrUnknownGoal) {
				continue
			}
			return nil, err
		}
		if g.Archived() {
			continue
		}
		out = append(out, SimilarGoal{Goal: *g, Score: m.Score})
	}
	return out, nil
}

func (e *Engine) topK(k int) int {
	if k > 0 {
		return k
	}
	if e.cfg.SimilarityTopK > 0 {
		return min(e.cfg.SimilarityTopK, config.MaxSimilarityTopK)
	}
	return config.DefaultSimilarityTopK
}

func (e *Engine) threshold(t *float64) float64 {
	if t != nil {
		return *t
	}
	if e.cfg.SimilarityThreshold != 0 {
		return e.cfg.SimilarityThreshold
	}
	return config.DefaultSimilarityThreshold
}

// providerError makes sure provider failures surface as PROVIDER_UNAVAILABLE
// even when the embedder is not wrapped by similarity.NewResilientEmbedder.
func providerError(kind string, err error) error {
	if errors.Is(err, errors.ErrProviderUnavailable) {
		return err
	}
	return errors.NewProviderUnavailable(kind, err)
}
