package remote

import (
	"context"
	"encoding/json"
	"net/url"

	gojson "github.com/goccy/go-json"

	apperrors "github.com/virtuallab/labsync/internal/errors"
	"github.com/virtuallab/labsync/internal/models"
	syncpkg "github.com/virtuallab/labsync/internal/sync"
)

// route describes where one action kind is written.
type route struct {
	table    string
	upsert   bool
	validate func(payload json.RawMessage) error
}

var routes = map[models.ActionKind]route{
	models.KindSubmitQuizResult:  {table: "quiz_results", validate: validateQuizResult},
	models.KindUpdateProgress:    {table: "user_progress", upsert: true, validate: validateProgress},
	models.KindSaveSimulationRun: {table: "simulation_history", validate: validateSimulationRun},
}

// Handler returns the sync handler for kind.
func (c *Client) Handler(kind models.ActionKind) (syncpkg.Handler, error) {
	r, ok := routes[kind]
	if !ok {
		return nil, apperrors.Newf(apperrors.ErrNoHandler, "no remote route for kind %q", kind)
	}
	return syncpkg.HandlerFunc(func(ctx context.Context, payload json.RawMessage) error {
		if err := r.validate(payload); err != nil {
			return err
		}
		return c.Insert(ctx, r.table, payload, r.upsert)
	}), nil
}

// Register installs handlers for every built-in kind into reg.
func Register(reg *syncpkg.Registry, c *Client) {
	for _, kind := range models.KnownKinds() {
		h, err := c.Handler(kind)
		if err != nil {
			continue
		}
		reg.Register(kind, h)
	}
}

func decode(payload json.RawMessage, v interface{}) error {
	if err := gojson.Unmarshal(payload, v); err != nil {
		return apperrors.Wrap(apperrors.ErrInvalid, "malformed payload", err)
	}
	return nil
}

func validateQuizResult(payload json.RawMessage) error {
	var q models.QuizResult
	if err := decode(payload, &q); err != nil {
		return err
	}
	if q.QuizID == "" {
		return apperrors.New(apperrors.ErrInvalid, "quiz_id is required")
	}
	if q.CorrectAnswers < 0 || q.CorrectAnswers > q.TotalQuestions {
		return apperrors.Newf(apperrors.ErrInvalid, "correct_answers %d out of range 0..%d", q.CorrectAnswers, q.TotalQuestions)
	}
	return nil
}

func validateProgress(payload json.RawMessage) error {
	var p models.ProgressUpdate
	if err := decode(payload, &p); err != nil {
		return err
	}
	if p.ModuleID == "" {
		return apperrors.New(apperrors.ErrInvalid, "moduleId is required")
	}
	if p.Progress < 0 || p.Progress > 100 {
		return apperrors.Newf(apperrors.ErrInvalid, "progress %d out of range 0..100", p.Progress)
	}
	return nil
}

func validateSimulationRun(payload json.RawMessage) error {
	var s models.SimulationRun
	if err := decode(payload, &s); err != nil {
		return err
	}
	if s.AlgorithmType == "" {
		return apperrors.New(apperrors.ErrInvalid, "algorithmType is required")
	}
	return nil
}

// Fetcher returns a read-through fetch function selecting rows of table that
// match filter, in the backend's query syntax (for example
// "module_id" -> "eq.m1").
func (c *Client) Fetcher(table string, filter map[string]string) func(ctx context.Context) (json.RawMessage, error) {
	query := url.Values{}
	for k, v := range filter {
		query.Set(k, v)
	}
	return func(ctx context.Context) (json.RawMessage, error) {
		return c.Select(ctx, table, query)
	}
}
