package extractor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
	"github.com/ykarpov/planner-bot/internal/models"
	"github.com/ykarpov/planner-bot/internal/timeutil"
	"go.uber.org/zap"
)

type GPTExtractor struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float64
	logger      *zap.Logger
}

func NewGPTExtractor(apiKey string, model string, maxTokens int, temperature float64, logger *zap.Logger) *GPTExtractor {
	return &GPTExtractor{
		client:      openai.NewClient(apiKey),
		model:       model,
		maxTokens:   maxTokens,
		temperature: temperature,
		logger:      logger,
	}
}

// rawFragment is the JSON shape requested from the model, before
// boundary validation.
type rawFragment struct {
	Kind    string     `json:"kind"`
	Updates rawUpdates `json:"updates"`
	Events  []rawEvent `json:"events"`
	Note    string     `json:"note"`
}

type rawUpdates struct {
	Task      string `json:"task"`
	Date      string `json:"date"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Location  string `json:"location"`
	Type      string `json:"type"`
	Overwrite bool   `json:"overwrite"`
}

type rawEvent struct {
	Title     string `json:"title"`
	Date      string `json:"date"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Location  string `json:"location"`
	Type      string `json:"type"`
}

type rawClass struct {
	Subject   string `json:"subject"`
	Day       string `json:"day"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Location  string `json:"location"`
}

const fragmentPrompt = `You are the parser of a scheduling assistant. Today is %s.
Interpret the user's message and return ONLY a JSON object:
{
    "kind": "updates" | "events" | "none",
    "updates": {"task": "", "date": "YYYY-MM-DD", "start_time": "HH:MM", "end_time": "HH:MM", "location": "", "type": "", "overwrite": false},
    "events": [{"title": "", "date": "YYYY-MM-DD", "start_time": "HH:MM", "end_time": "HH:MM", "location": "", "type": ""}],
    "note": ""
}

Rules:
- "updates": the message adds or corrects details of ONE event being described. Fill only fields the message mentions; leave the rest empty. Set "overwrite" true only when the user explicitly corrects an earlier value.
- "events": the message lists MULTIPLE complete events or a date range; every element must have title and date.
- "none": the message is not about scheduling; put a short reply in "note".
- "type" is one of: sports, meeting, class, deadline, social, admin, other.
- Resolve relative dates ("tomorrow", "next friday") against today's date.

Message: %s`

func (e *GPTExtractor) ExtractFragment(ctx context.Context, text, currentDate string) (*Fragment, error) {
	prompt := fmt.Sprintf(fragmentPrompt, currentDate, text)

	response, err := e.complete(ctx, prompt)
	if err != nil {
		return nil, err
	}

	var raw rawFragment
	if err := json.Unmarshal([]byte(stripCodeFence(response)), &raw); err != nil {
		e.logger.Error("Failed to parse extraction response",
			zap.Error(err),
			zap.String("response", response))
		return nil, fmt.Errorf("%w: unparseable model output", ErrExtraction)
	}

	return validateFragment(raw), nil
}

// validateFragment turns the loosely-typed model output into the closed
// union the engine consumes. Times are normalized here; batch events
// missing title or date are dropped.
func validateFragment(raw rawFragment) *Fragment {
	switch raw.Kind {
	case "updates":
		updates := &Updates{
			Task:      strings.TrimSpace(raw.Updates.Task),
			Date:      strings.TrimSpace(raw.Updates.Date),
			StartTime: timeutil.NormalizeTime(raw.Updates.StartTime),
			EndTime:   timeutil.NormalizeTime(raw.Updates.EndTime),
			Location:  strings.TrimSpace(raw.Updates.Location),
			Overwrite: raw.Updates.Overwrite,
		}
		if c := models.Category(raw.Updates.Type); models.ValidCategory(c) {
			updates.Category = c
		}
		if updates.Empty() {
			return &Fragment{Kind: FragmentNone, Note: raw.Note}
		}
		return &Fragment{Kind: FragmentUpdates, Updates: updates}

	case "events":
		var events []EventInput
		for _, re := range raw.Events {
			title := strings.TrimSpace(re.Title)
			date := strings.TrimSpace(re.Date)
			if title == "" || date == "" {
				continue
			}
			event := EventInput{
				Title:     title,
				Date:      date,
				StartTime: timeutil.NormalizeTime(re.StartTime),
				EndTime:   timeutil.NormalizeTime(re.EndTime),
				Location:  strings.TrimSpace(re.Location),
			}
			if c := models.Category(re.Type); models.ValidCategory(c) {
				event.Category = c
			}
			events = append(events, event)
		}
		if len(events) == 0 {
			return &Fragment{Kind: FragmentNone, Note: raw.Note}
		}
		return &Fragment{Kind: FragmentEvents, Events: events}
	}

	return &Fragment{Kind: FragmentNone, Note: raw.Note}
}

const classPrompt = `You are the parser of a scheduling assistant.
The user is describing their weekly recurring classes or commitments.
Return ONLY a JSON object:
{"classes": [{"subject": "", "day": "monday", "start_time": "HH:MM", "end_time": "HH:MM", "location": ""}]}

Every entry needs a subject, a weekday name, a start time and an end time.

Message: %s`

func (e *GPTExtractor) ExtractClasses(ctx context.Context, text string) ([]models.Class, error) {
	prompt := fmt.Sprintf(classPrompt, text)

	response, err := e.complete(ctx, prompt)
	if err != nil {
		return nil, err
	}

	var raw struct {
		Classes []rawClass `json:"classes"`
	}
	if err := json.Unmarshal([]byte(stripCodeFence(response)), &raw); err != nil {
		e.logger.Error("Failed to parse class extraction response",
			zap.Error(err),
			zap.String("response", response))
		return nil, fmt.Errorf("%w: unparseable model output", ErrExtraction)
	}

	var classes []models.Class
	for _, rc := range raw.Classes {
		class, ok := validateClass(rc)
		if !ok {
			e.logger.Warn("Dropping invalid class entry",
				zap.String("subject", rc.Subject),
				zap.String("day", rc.Day))
			continue
		}
		classes = append(classes, class)
	}

	return classes, nil
}

func validateClass(rc rawClass) (models.Class, bool) {
	subject := strings.TrimSpace(rc.Subject)
	weekday := timeutil.ParseDayName(rc.Day)
	start := timeutil.NormalizeTime(rc.StartTime)
	end := timeutil.NormalizeTime(rc.EndTime)

	if subject == "" || weekday < 0 || start == "" || end == "" {
		return models.Class{}, false
	}
	return models.Class{
		Subject:   subject,
		Weekday:   weekday,
		StartTime: start,
		EndTime:   end,
		Location:  strings.TrimSpace(rc.Location),
	}, true
}

func (e *GPTExtractor) complete(ctx context.Context, prompt string) (string, error) {
	resp, err := e.client.CreateChatCompletion(
		ctx,
		openai.ChatCompletionRequest{
			Model: e.model,
			Messages: []openai.ChatCompletionMessage{
				{
					Role:    openai.ChatMessageRoleUser,
					Content: prompt,
				},
			},
			MaxTokens:   e.maxTokens,
			Temperature: float32(e.temperature),
		},
	)
	if err != nil {
		e.logger.Error("Failed to get extraction response", zap.Error(err))
		return "", mapAPIError(err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: empty completion", ErrExtraction)
	}

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// mapAPIError folds transport errors onto the failure taxonomy the bot
// knows how to phrase.
func mapAPIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case 401, 403:
			return ErrInvalidCredentials
		case 429:
			return ErrRateLimited
		}
	}
	return fmt.Errorf("%w: %v", ErrExtraction, err)
}

// stripCodeFence removes a ```json ... ``` wrapper some models insist on.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
