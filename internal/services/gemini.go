package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"relay-backend/internal/models"
)

// GeminiModel is the hosted model every request goes to.
const GeminiModel = "gemini-2.5-flash-lite"

var errEmptyConversation = errors.New("conversation has no turns")

// GeminiService is a stateless adapter over the Gemini API. It turns a prompt
// or a conversation into a single generated reply.
type GeminiService struct {
	client   *genai.Client
	model    *genai.GenerativeModel
	logger   *zap.Logger
	rateChan chan struct{} // concurrency slots
}

func NewGeminiService(apiKey string, concurrentReqs int, logger *zap.Logger) (*GeminiService, error) {
	ctx := context.Background()
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	model := client.GenerativeModel(GeminiModel)

	return &GeminiService{
		client:   client,
		model:    model,
		logger:   logger,
		rateChan: newRateChan(concurrentReqs),
	}, nil
}

func newRateChan(slots int) chan struct{} {
	if slots < 1 {
		slots = 1
	}
	rateChan := make(chan struct{}, slots)
	for i := 0; i < slots; i++ {
		rateChan <- struct{}{}
	}
	return rateChan
}

func (s *GeminiService) Close() {
	s.client.Close()
}

// acquireRate blocks until a slot is available or ctx ends.
func (s *GeminiService) acquireRate(ctx context.Context) error {
	select {
	case <-s.rateChan:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *GeminiService) releaseRate() {
	s.rateChan <- struct{}{}
}

// GenerateText sends a single standalone prompt.
func (s *GeminiService) GenerateText(ctx context.Context, prompt string) (string, error) {
	if err := s.acquireRate(ctx); err != nil {
		return "", AsServiceError(err)
	}
	defer s.releaseRate()

	resp, err := s.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", AsServiceError(fmt.Errorf("Gemini API error: %w", err))
	}
	return s.replyText(resp)
}

// Generate sends a whole conversation. Every turn but the last becomes chat
// history of a throwaway session and the last turn is sent as the message, so
// the service keeps no state between calls.
func (s *GeminiService) Generate(ctx context.Context, turns []models.Turn) (string, error) {
	history, message, err := splitConversation(turns)
	if err != nil {
		return "", &ServiceError{Kind: KindUnavailable, Err: err}
	}

	if err := s.acquireRate(ctx); err != nil {
		return "", AsServiceError(err)
	}
	defer s.releaseRate()

	cs := s.model.StartChat()
	cs.History = history

	s.logger.Debug("calling Gemini",
		zap.String("model", GeminiModel),
		zap.Int("history_turns", len(history)),
	)

	resp, err := cs.SendMessage(ctx, message...)
	if err != nil {
		return "", AsServiceError(fmt.Errorf("Gemini API error: %w", err))
	}
	return s.replyText(resp)
}

func (s *GeminiService) replyText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil {
		return "", &ServiceError{Kind: KindEmptyReply, Err: errors.New("Gemini returned no response")}
	}

	for i, cand := range resp.Candidates {
		if cand != nil && cand.FinishReason != genai.FinishReasonStop {
			s.logger.Warn("Gemini candidate did not finish cleanly",
				zap.Int("candidate", i),
				zap.String("finish_reason", cand.FinishReason.String()),
			)
		}
	}

	text := extractText(resp)
	if strings.TrimSpace(text) == "" {
		return "", &ServiceError{Kind: KindEmptyReply, Err: errors.New("Gemini returned no text")}
	}
	return text, nil
}

// Helper functions

func toContent(turn models.Turn) *genai.Content {
	parts := make([]genai.Part, 0, len(turn.Parts))
	for _, p := range turn.Parts {
		parts = append(parts, genai.Text(p.Text))
	}
	return &genai.Content{Role: string(turn.Role), Parts: parts}
}

func splitConversation(turns []models.Turn) ([]*genai.Content, []genai.Part, error) {
	if len(turns) == 0 {
		return nil, nil, errEmptyConversation
	}

	history := make([]*genai.Content, 0, len(turns)-1)
	for _, t := range turns[:len(turns)-1] {
		history = append(history, toContent(t))
	}

	last := toContent(turns[len(turns)-1])
	if len(last.Parts) == 0 {
		// A turn without parts still has to be sent as something.
		last.Parts = []genai.Part{genai.Text("")}
	}
	return history, last.Parts, nil
}

func extractText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	var text strings.Builder
	for _, cand := range resp.Candidates {
		if cand != nil && cand.Content != nil {
			for _, part := range cand.Content.Parts {
				if t, ok := part.(genai.Text); ok {
					text.WriteString(string(t))
				}
			}
		}
	}
	return text.String()
}
