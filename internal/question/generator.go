// Package question talks to the external content-generation service that
// produces the trivia set for each game cycle.
package question

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Ludge/goal-gala-quiz-time/internal/domain"
	"github.com/Ludge/goal-gala-quiz-time/internal/errors"
)

const optionCount = 4

// Generator is an HTTP client for the question service. The service is
// best-effort: when it is unreachable or returns garbage, Generate falls back
// to the built-in sample set so a game can still start.
type Generator struct {
	url    string
	client *http.Client
}

func NewGenerator(url string) *Generator {
	return &Generator{
		url: url,
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

type generateRequest struct {
	Count int `json:"count"`
}

type generateResponse struct {
	Questions []generatedQuestion `json:"questions"`
}

type generatedQuestion struct {
	Question      string   `json:"question"`
	Options       []string `json:"options"`
	CorrectOption int      `json:"correct_option_index"`
}

// Generate returns count questions in play order. Question identities and
// room ownership are assigned by the store on insert.
func (g *Generator) Generate(ctx context.Context, count int) ([]domain.Question, error) {
	if count <= 0 {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("question count must be positive, got %d", count))
	}

	qs, err := g.fetch(ctx, count)
	if err != nil {
		slog.WarnContext(ctx, "question: generator unavailable, using fallback set", "error", err)
		return fallback(count), nil
	}
	return qs, nil
}

func (g *Generator) fetch(ctx context.Context, count int) ([]domain.Question, error) {
	body, err := json.Marshal(generateRequest{Count: count})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call generator: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("generator returned status %d", resp.StatusCode)
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(out.Questions) == 0 {
		return nil, fmt.Errorf("generator returned no questions")
	}

	qs := make([]domain.Question, 0, count)
	for i, gq := range out.Questions {
		if err := validate(gq); err != nil {
			return nil, fmt.Errorf("question %d: %w", i, err)
		}
		qs = append(qs, domain.Question{
			Number:        len(qs),
			Text:          gq.Question,
			Options:       gq.Options,
			CorrectOption: gq.CorrectOption,
		})
		if len(qs) == count {
			break
		}
	}

	if len(qs) < count {
		return nil, fmt.Errorf("generator returned %d questions, want %d", len(qs), count)
	}
	return qs, nil
}

func validate(q generatedQuestion) error {
	if q.Question == "" {
		return fmt.Errorf("empty question text")
	}
	if len(q.Options) != optionCount {
		return fmt.Errorf("want %d options, got %d", optionCount, len(q.Options))
	}
	if q.CorrectOption < 0 || q.CorrectOption >= len(q.Options) {
		return fmt.Errorf("correct option index %d out of range", q.CorrectOption)
	}
	return nil
}

var sampleQuestions = []domain.Question{
	{
		Text:          "Which club won the UEFA Champions League in 2005 after being 3-0 down at halftime?",
		Options:       []string{"AC Milan", "Liverpool", "Manchester United", "Real Madrid"},
		CorrectOption: 1,
	},
	{
		Text:          "Who scored the winning goal for Germany in the 2014 FIFA World Cup Final?",
		Options:       []string{"Thomas Müller", "Miroslav Klose", "Mario Götze", "Mesut Özil"},
		CorrectOption: 2,
	},
	{
		Text:          "Which player holds the record for the most goals scored in a single Premier League season (38 games)?",
		Options:       []string{"Alan Shearer", "Cristiano Ronaldo", "Mohamed Salah", "Erling Haaland"},
		CorrectOption: 3,
	},
	{
		Text:          "Which country won the 2010 FIFA World Cup?",
		Options:       []string{"Brazil", "Germany", "Spain", "Netherlands"},
		CorrectOption: 2,
	},
	{
		Text:          "Who scored the famous \"Hand of God\" goal?",
		Options:       []string{"Pelé", "Diego Maradona", "Zinedine Zidane", "Ronaldo"},
		CorrectOption: 1,
	},
}

func fallback(count int) []domain.Question {
	qs := make([]domain.Question, count)
	for i := range qs {
		qs[i] = sampleQuestions[i%len(sampleQuestions)]
		qs[i].Number = i
	}
	return qs
}
