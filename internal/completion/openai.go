package completion

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ashureev/carebot/internal/domain"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// OpenAI implements Client using the official OpenAI Go SDK. Any
// OpenAI-compatible endpoint can be targeted with WithBaseURL.
type OpenAI struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
}

// OpenAIOption configures an OpenAI client.
type OpenAIOption func(*OpenAI)

// WithBaseURL sets a custom base URL.
func WithBaseURL(url string) OpenAIOption {
	return func(c *OpenAI) { c.baseURL = url }
}

// WithTimeout bounds each completion request.
func WithTimeout(d time.Duration) OpenAIOption {
	return func(c *OpenAI) { c.timeout = d }
}

// WithHTTPClient overrides the HTTP client used by the SDK.
func WithHTTPClient(hc *http.Client) OpenAIOption {
	return func(c *OpenAI) { c.httpClient = hc }
}

// NewOpenAI creates an OpenAI-backed Client.
func NewOpenAI(opts ...OpenAIOption) *OpenAI {
	c := &OpenAI{}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Complete sends the whole transcript and returns the first choice's content.
// The credential is per call because every session brings its own key.
func (c *OpenAI) Complete(ctx context.Context, transcript []domain.Turn, credential string, opts domain.CompletionOptions) (string, error) {
	if strings.TrimSpace(credential) == "" {
		return "", &domain.AuthenticationError{Message: "credential is required"}
	}
	if err := opts.Validate(); err != nil {
		return "", err
	}

	clientOpts := []option.RequestOption{
		option.WithAPIKey(credential),
		option.WithMaxRetries(0),
	}
	if c.baseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(c.baseURL))
	}
	if c.timeout > 0 {
		clientOpts = append(clientOpts, option.WithRequestTimeout(c.timeout))
	}
	if c.httpClient != nil {
		clientOpts = append(clientOpts, option.WithHTTPClient(c.httpClient))
	}
	client := openai.NewClient(clientOpts...)

	params := openai.ChatCompletionNewParams{
		Model:       opts.Model,
		Messages:    toOpenAIMessages(transcript),
		Temperature: openai.Float(opts.Temperature),
	}

	resp, err := client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", classify(ctx, err)
	}

	if len(resp.Choices) == 0 {
		return "", &domain.ServiceError{Message: "the service returned no choices"}
	}
	content := resp.Choices[0].Message.Content
	if strings.TrimSpace(content) == "" {
		return "", &domain.ServiceError{Message: "the service returned an empty reply"}
	}
	return content, nil
}

// classify maps SDK and transport errors onto the domain taxonomy.
func classify(ctx context.Context, err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		msg := fmt.Sprintf("%d %s", apiErr.StatusCode, http.StatusText(apiErr.StatusCode))
		switch apiErr.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			// The provider's message may echo part of the rejected key.
			return &domain.AuthenticationError{Message: msg, Err: err}
		default:
			if apiErr.Message != "" {
				msg += ": " + apiErr.Message
			}
			return &domain.ServiceError{Message: msg, Err: err}
		}
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &domain.ServiceError{Message: "the request timed out", Err: err}
	case errors.Is(err, context.Canceled) || ctx.Err() != nil:
		return &domain.ServiceError{Message: "the request was canceled", Err: err}
	default:
		return &domain.ServiceError{Message: err.Error(), Err: err}
	}
}

// toOpenAIMessages converts transcript turns to the SDK union type.
// The instruction turn travels as the system message.
func toOpenAIMessages(turns []domain.Turn) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, len(turns))
	for i, t := range turns {
		switch t.Role {
		case domain.RoleInstruction:
			out[i] = openai.SystemMessage(t.Content)
		case domain.RoleAssistant:
			out[i] = openai.AssistantMessage(t.Content)
		default:
			out[i] = openai.UserMessage(t.Content)
		}
	}
	return out
}
