package dispatch

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"time"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"golang.org/x/time/rate"
)

// LLMConfig carries the LLM backend's connection and sampling parameters,
// sourced from environment per spec §6 ("never a public argument").
type LLMConfig struct {
	Provider    string // carried from LLM_PROVIDER; NewLLMBackend does not read it
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int64
	Timeout     time.Duration
	MaxRetries  int
}

// LLMBackend issues chat completions against an OpenAI-compatible
// endpoint. Retries are bounded and limited to transport/5xx error
// classes, paced by a token-bucket limiter so retries never exceed the
// configured rate.
type LLMBackend struct {
	cfg     LLMConfig
	limiter *rate.Limiter
	client  *openaisdk.Client
}

// NewLLMBackend builds an LLMBackend for cfg. It always builds an
// OpenAI-compatible client (BaseURL overrides the endpoint); cfg.Provider is
// not consulted, and no other provider's client is constructed.
func NewLLMBackend(cfg LLMConfig) *LLMBackend {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := openaisdk.NewClient(opts...)
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	return &LLMBackend{
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Every(time.Second), cfg.MaxRetries+1),
		client:  &client,
	}
}

func (b *LLMBackend) Create(ctx context.Context, call Call, req Request) (Result, error) {
	return b.dispatch(ctx, call, req, nil)
}

func (b *LLMBackend) Resume(ctx context.Context, call Call, req Request) (Result, error) {
	return b.dispatch(ctx, call, req, nil)
}

func (b *LLMBackend) Rework(ctx context.Context, call Call, req Request, reworkPayload map[string]interface{}) (Result, error) {
	return b.dispatch(ctx, call, req, reworkPayload)
}

func (b *LLMBackend) dispatch(ctx context.Context, call Call, req Request, reworkPayload map[string]interface{}) (Result, error) {
	timeout := b.cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	prompt := renderPrompt(req, reworkPayload)

	var out Output
	var fail Failure
	class := ExitSuccess

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	var lastErr error
	for attempt := 0; attempt < b.cfg.MaxRetries; attempt++ {
		if err := b.limiter.Wait(callCtx); err != nil {
			fail = Failure{Class: ExitFatal, Message: err.Error(), OccurredAt: time.Now().UTC()}
			class = ExitFatal
			lastErr = err
			break
		}

		resp, err := b.client.Chat.Completions.New(callCtx, openaisdk.ChatCompletionNewParams{
			Model:       openaisdk.ChatModel(b.cfg.Model),
			Messages:    []openaisdk.ChatCompletionMessageParamUnion{openaisdk.UserMessage(prompt)},
			Temperature: openaisdk.Float(b.cfg.Temperature),
			MaxTokens:   openaisdk.Int(b.cfg.MaxTokens),
		})
		if err == nil {
			out = Output{FinishedAt: time.Now().UTC()}
			if len(resp.Choices) > 0 {
				out.Text = resp.Choices[0].Message.Content
			}
			lastErr = nil
			break
		}

		lastErr = err
		if !isRetryable(err) {
			class = ExitFatal
			fail = Failure{Class: ExitFatal, Message: err.Error(), OccurredAt: time.Now().UTC()}
			break
		}
		class = ExitRetryable
		time.Sleep(computeBackoff(attempt, 500*time.Millisecond, 10*time.Second, rng))
	}

	if lastErr != nil && class != ExitFatal {
		fail = Failure{Class: ExitRetryable, Message: lastErr.Error(), OccurredAt: time.Now().UTC()}
	}

	if err := writeArtifacts(call, req, out, fail); err != nil {
		return Result{}, err
	}
	return Result{Output: out, Failure: fail, Class: class, CallPath: call.Path()}, nil
}

func renderPrompt(req Request, reworkPayload map[string]interface{}) string {
	if reworkPayload != nil {
		return fmt.Sprintf("rework: %v\ninputs: %v", reworkPayload, req.Inputs)
	}
	return fmt.Sprintf("%v", req.Inputs)
}

// isRetryable matches the teacher's transport/5xx retry class.
func isRetryable(err error) bool {
	var apiErr *openaisdk.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500
	}
	var netErr net.Error
	return errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded)
}

// computeBackoff follows the teacher's exponential-backoff-with-jitter
// formula: delay = min(base*2^attempt, maxDelay) + jitter(0, base).
func computeBackoff(attempt int, base, maxDelay time.Duration, rng *rand.Rand) time.Duration {
	exponential := base * time.Duration(1<<attempt)
	if exponential > maxDelay {
		exponential = maxDelay
	}
	jitter := time.Duration(rng.Int63n(int64(base)))
	return exponential + jitter
}
