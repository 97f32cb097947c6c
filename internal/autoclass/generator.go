package autoclass

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"normative/api/internal/annosync"
	"normative/api/internal/annotation"
	"normative/api/internal/budget"
	"normative/api/internal/config"
	"normative/api/internal/logger"
	"normative/api/internal/norm"
	"normative/api/internal/persist"
	"normative/api/internal/rbac"
	"normative/api/internal/workflow"
)

var (
	ErrModelDisabled = errors.New("classification model is not configured")
	ErrReadOnly      = errors.New("anonymous callers cannot generate documents")
)

// FromConfig builds the model chain: OpenAI when a key is set, otherwise the
// HTTP endpoint, behind a rate limit and a result cache.
func FromConfig(cfg config.ModelConfig) (Model, error) {
	var model Model
	switch {
	case cfg.OpenAIKey != "":
		m, err := NewOpenAIModel(cfg.OpenAIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel, cfg.Timeout)
		if err != nil {
			return nil, err
		}
		model = m
	case cfg.URL != "":
		model = NewHTTPModel(cfg.URL, cfg.Timeout)
	default:
		return nil, ErrModelDisabled
	}
	return NewCachedModel(NewLimitedModel(model, cfg.RatePerSecond, cfg.Burst), cfg.CacheTTL), nil
}

// Store is everything a run writes through.
type Store interface {
	persist.DocumentStore
	persist.AnnotationStore
	persist.ClassifierStore
	persist.StatusStore
}

type Request struct {
	Title string `json:"title"`
	Text  string `json:"text"`
	NPA   string `json:"NPA"`
}

type Generated struct {
	ID          int64         `json:"id"`
	Title       string        `json:"title"`
	Annotations int           `json:"annotations"`
	Points      budget.Points `json:"points"`
	LawType     norm.LawType  `json:"law_type"`
	Status      norm.Status   `json:"status"`
}

type Result struct {
	Documents []Generated `json:"documents"`
	Failures  int         `json:"failures"`
}

type Generator struct {
	model Model
	store Store
	log   *logger.Logger
}

func NewGenerator(model Model, store Store, log *logger.Logger) *Generator {
	return &Generator{model: model, store: store, log: logger.OrNop(log)}
}

// Run classifies req.Text and stores one document per norm. Only a model
// failure aborts the run; every later step that fails is logged, counted in
// Result.Failures, and skipped.
func (g *Generator) Run(ctx context.Context, ac rbac.AuthContext, req Request) (Result, error) {
	if !ac.IsAuthenticated() {
		return Result{}, ErrReadOnly
	}
	if g.model == nil {
		return Result{}, ErrModelDisabled
	}
	norms, err := g.model.Classify(ctx, req.Text)
	if err != nil {
		return Result{}, fmt.Errorf("classify text: %w", err)
	}

	result := Result{Documents: make([]Generated, 0, len(norms))}
	for i, n := range norms {
		title := strings.TrimSpace(req.Title)
		if len(norms) > 1 {
			title = fmt.Sprintf("%s - норма %d", title, i+1)
		}
		generated, failures, err := g.storeNorm(ctx, ac, req.NPA, title, n)
		result.Failures += failures
		if err != nil {
			result.Failures++
			g.log.Error("generated document create failed", "title", title, "error", err)
			continue
		}
		result.Documents = append(result.Documents, generated)
	}

	g.log.Info("classification generated",
		"user_id", ac.UserID,
		"norms", len(norms),
		"documents", len(result.Documents),
		"failures", result.Failures,
	)
	return result, nil
}

func (g *Generator) storeNorm(ctx context.Context, ac rbac.AuthContext, npa, title string, n Norm) (Generated, int, error) {
	created, err := g.store.CreateDocument(ctx, persist.NewDocument{
		Title:  title,
		Text:   n.Paragraph,
		NPA:    npa,
		UserID: ac.UserID,
	})
	if err != nil {
		return Generated{}, 0, err
	}
	log := g.log.With("document_id", created.ID)
	out := Generated{ID: created.ID, Title: title, LawType: norm.LawTypeUnchecked, Status: norm.StatusUnmarked}
	failures := 0

	engine := annosync.New(annosync.Document{ID: created.ID, Text: created.Text}, g.store, log)
	addKeyword := func(keyword string, c annotation.Classification) {
		a, ok := annotation.NewKeyword(created.Text, keyword, c)
		if !ok {
			log.Warn("keyword not found in norm text", "keyword", keyword)
			return
		}
		if err := engine.OnCreate(ctx, a, nil); err != nil {
			failures++
			return
		}
		out.Annotations++
	}
	for _, group := range n.Justification.Keywords {
		category, err := norm.ParseCategory(group.Key)
		if err != nil {
			failures++
			log.Warn("unknown justification in model output", "key", group.Key)
			continue
		}
		for _, keyword := range group.Words {
			addKeyword(keyword, annotation.Classification{Type: norm.LawTypeUnchecked, Justification: category})
		}
	}
	for _, group := range n.LawType.Keywords {
		lawType, err := norm.ParseLawType(group.Key)
		if err != nil || lawType == norm.LawTypeUnchecked {
			failures++
			log.Warn("unknown law type in model output", "key", group.Key)
			continue
		}
		for _, keyword := range group.Words {
			addKeyword(keyword, annotation.Classification{Type: lawType, Justification: norm.JustificationUnchecked})
		}
	}

	tracker := budget.NewTracker(created.ID, budget.Points{}, ac, g.store, log)
	for _, share := range budget.Allocate(n.Justification.Probability) {
		category, err := norm.ParseCategory(share.Key)
		if err != nil {
			failures++
			log.Warn("unknown justification in model output", "key", share.Key)
			continue
		}
		if outcome, err := tracker.Set(ctx, category, share.Points); err != nil || outcome != budget.Accepted {
			failures++
		}
	}
	out.Points = tracker.Points()

	if key, ok := n.LawType.Probability.Argmax(); ok {
		lawType, err := norm.ParseLawType(key)
		switch {
		case err != nil:
			failures++
			log.Warn("unknown law type in model output", "key", key)
		default:
			if err := g.store.PatchClassifier(ctx, created.ID, "law_type", string(lawType)); err != nil {
				failures++
				log.Error("law type update failed", "law_type", lawType, "error", err)
			} else {
				out.LawType = lawType
			}
		}
	}

	flow := workflow.New(created.ID, norm.StatusUnmarked, ac, g.store, log)
	if _, err := flow.Select(ctx, norm.StatusGenerated); err != nil {
		failures++
		log.Warn("generated status not applied", "error", err)
	}
	out.Status = flow.Status()
	return out, failures, nil
}
