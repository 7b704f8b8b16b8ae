package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/keagan/reelcutter/internal/captions"
	"github.com/keagan/reelcutter/internal/clips"
	"github.com/keagan/reelcutter/internal/config"
	"github.com/keagan/reelcutter/internal/retry"
	"github.com/keagan/reelcutter/pkg/util"
	"github.com/rs/zerolog"
	"google.golang.org/genai"
)

var (
	// ErrMissingAPIKey is returned when the configured key variable is empty
	ErrMissingAPIKey = errors.New("gemini api key not set")
	// ErrRemoteProcessing is returned when an uploaded file fails server side
	ErrRemoteProcessing = errors.New("remote file processing failed")
	// ErrInvalidResponse is returned when the model reply cannot be decoded
	ErrInvalidResponse = errors.New("invalid model response")
)

const selectorPrompt = `Watch this video and pick the 3 strongest highlight moments:
high energy, clear insights, memorable advice.
Each highlight must last between 30 and 60 seconds.

Reply with a JSON array only, in this shape:
[{"start": 10.5, "end": 45.0, "reason": "Why this moment works"}]`

const transcriberPrompt = `Transcribe this audio word by word.
Reply with a JSON array of individual words with timestamps in seconds:
[{"start": 0.5, "end": 0.8, "word": "Hello"}, {"start": 0.9, "end": 1.2, "word": "world"}]
Attach punctuation to the preceding word. Reply with JSON only.`

// GeminiClient uploads media to the Gemini API and asks for JSON replies
type GeminiClient struct {
	logger zerolog.Logger
	client *genai.Client
	poll   time.Duration
	retry  retry.Policy
}

// NewGeminiClient creates a client using the key in cfg.APIKeyEnv
func NewGeminiClient(ctx context.Context, logger zerolog.Logger, cfg config.GeminiConfig, policy retry.Policy) (*GeminiClient, error) {
	key := os.Getenv(cfg.APIKeyEnv)
	if key == "" {
		return nil, fmt.Errorf("%w: %s is empty", ErrMissingAPIKey, cfg.APIKeyEnv)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  key,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create client: %w", err)
	}

	poll := time.Duration(cfg.PollInterval * float64(time.Second))
	if poll <= 0 {
		poll = time.Second
	}
	policy.IsRetryable = isRateLimited

	return &GeminiClient{
		logger: logger.With().Str("component", "gemini").Logger(),
		client: client,
		poll:   poll,
		retry:  policy,
	}, nil
}

// upload sends path and waits until the file leaves the processing state
func (g *GeminiClient) upload(ctx context.Context, path string) (*genai.File, error) {
	var file *genai.File
	err := g.retry.Do(ctx, "upload "+filepath.Base(path), func(ctx context.Context) error {
		var err error
		file, err = g.client.Files.UploadFromPath(ctx, path, &genai.UploadFileConfig{MIMEType: mimeType(path)})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("upload %s: %w", filepath.Base(path), err)
	}

	g.logger.Debug().Str("file", file.Name).Msg("upload complete, waiting for processing")

	name := file.Name
	for file.State == genai.FileStateProcessing {
		if err := retry.Sleep(ctx, g.poll); err != nil {
			return nil, err
		}
		file, err = g.client.Files.Get(ctx, name, nil)
		if err != nil {
			return nil, fmt.Errorf("poll %s: %w", name, err)
		}
	}

	if file.State == genai.FileStateFailed {
		return nil, fmt.Errorf("%w: %s", ErrRemoteProcessing, name)
	}
	return file, nil
}

// remove deletes an uploaded file; failures are only logged
func (g *GeminiClient) remove(file *genai.File) {
	// the caller's context may already be cancelled
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := g.client.Files.Delete(ctx, file.Name, nil); err != nil {
		g.logger.Warn().Err(err).Str("file", file.Name).Msg("failed to delete uploaded file")
	}
}

// ask uploads path, prompts model about it and returns the reply text
func (g *GeminiClient) ask(ctx context.Context, model, path, prompt string) (string, error) {
	file, err := g.upload(ctx, path)
	if err != nil {
		return "", err
	}
	defer g.remove(file)

	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromURI(file.URI, file.MIMEType),
			genai.NewPartFromText(prompt),
		}, genai.RoleUser),
	}
	genCfg := &genai.GenerateContentConfig{ResponseMIMEType: "application/json"}

	var text string
	err = g.retry.Do(ctx, "generate "+model, func(ctx context.Context) error {
		result, err := g.client.Models.GenerateContent(ctx, model, contents, genCfg)
		if err != nil {
			if isRateLimited(err) {
				g.logger.Warn().Err(err).Str("model", model).Msg("rate limited, backing off")
			}
			return err
		}
		text = responseText(result)
		if text == "" {
			return fmt.Errorf("%w: empty response", ErrInvalidResponse)
		}
		return nil
	})
	return text, err
}

func responseText(result *genai.GenerateContentResponse) string {
	if result == nil || len(result.Candidates) == 0 || result.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range result.Candidates[0].Content.Parts {
		if part != nil && part.Text != "" {
			sb.WriteString(part.Text)
		}
	}
	return sb.String()
}

// isRateLimited reports whether err signals a quota or 429 response
func isRateLimited(err error) bool {
	if err == nil {
		return false
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) && (apiErr.Code == 429 || apiErr.Status == "RESOURCE_EXHAUSTED") {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "429") ||
		strings.Contains(strings.ToLower(msg), "quota") ||
		strings.Contains(msg, "RESOURCE_EXHAUSTED")
}

// stripFences removes markdown code fences around a reply
func stripFences(text string) string {
	for _, fence := range []string{"```json", "```JSON", "```python", "```"} {
		text = strings.ReplaceAll(text, fence, "")
	}
	return strings.TrimSpace(text)
}

type selectedSegment struct {
	Start  timestamp `json:"start"`
	End    timestamp `json:"end"`
	Reason string    `json:"reason"`
}

// timestamp is a reply time in seconds. Models sometimes answer with a clock
// string such as "01:05" instead of a number.
type timestamp float64

func (ts *timestamp) UnmarshalJSON(data []byte) error {
	var seconds float64
	if err := json.Unmarshal(data, &seconds); err == nil {
		*ts = timestamp(seconds)
		return nil
	}
	var clock string
	if err := json.Unmarshal(data, &clock); err != nil {
		return fmt.Errorf("timestamp must be a number or string: %s", data)
	}
	d, err := util.ParseTimestamp(clock)
	if err != nil {
		return err
	}
	*ts = timestamp(d.Seconds())
	return nil
}

// defaultReason labels reply segments that arrive without one
const defaultReason = "viral_moment"

// parseSegments decodes a selector reply
func parseSegments(text string) ([]clips.Segment, error) {
	var raw []selectedSegment
	if err := json.Unmarshal([]byte(stripFences(text)), &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	segments := make([]clips.Segment, 0, len(raw))
	for _, r := range raw {
		reason := strings.TrimSpace(r.Reason)
		if reason == "" {
			reason = defaultReason
		}
		segments = append(segments, clips.Segment{Start: float64(r.Start), End: float64(r.End), Reason: reason})
	}
	return segments, nil
}

// parseTokens decodes a transcriber reply and checks token order
func parseTokens(text string) ([]captions.Token, error) {
	var tokens []captions.Token
	if err := json.Unmarshal([]byte(stripFences(text)), &tokens); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if err := captions.ValidateOrder(tokens); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidResponse, err)
	}
	return tokens, nil
}

func mimeType(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".wav":
		return "audio/wav"
	case ".mp4":
		return "video/mp4"
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return "application/octet-stream"
}

// GeminiSelector asks Gemini to choose highlight segments
type GeminiSelector struct {
	client *GeminiClient
	model  string
}

// NewGeminiSelector creates a selector using model
func NewGeminiSelector(client *GeminiClient, model string) *GeminiSelector {
	return &GeminiSelector{client: client, model: model}
}

// SelectSegments implements clips.Selector
func (s *GeminiSelector) SelectSegments(ctx context.Context, mediaPath string) ([]clips.Segment, error) {
	s.client.logger.Info().Str("video", filepath.Base(mediaPath)).Str("model", s.model).Msg("asking gemini for highlights")

	text, err := s.client.ask(ctx, s.model, mediaPath, selectorPrompt)
	if err != nil {
		return nil, err
	}
	segments, err := parseSegments(text)
	if err != nil {
		return nil, err
	}

	s.client.logger.Info().Int("segments", len(segments)).Msg("gemini selection complete")
	return segments, nil
}

// GeminiTranscriber asks Gemini for word level timestamps
type GeminiTranscriber struct {
	client *GeminiClient
	model  string
}

// NewGeminiTranscriber creates a transcriber using model
func NewGeminiTranscriber(client *GeminiClient, model string) *GeminiTranscriber {
	return &GeminiTranscriber{client: client, model: model}
}

// Transcribe implements Transcriber
func (t *GeminiTranscriber) Transcribe(ctx context.Context, audioPath string) ([]captions.Token, error) {
	text, err := t.client.ask(ctx, t.model, audioPath, transcriberPrompt)
	if err != nil {
		return nil, err
	}
	tokens, err := parseTokens(text)
	if err != nil {
		return nil, err
	}

	t.client.logger.Debug().Int("tokens", len(tokens)).Msg("transcription complete")
	return tokens, nil
}
