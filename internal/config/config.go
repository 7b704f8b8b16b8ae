package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

type contextKey string

const configKey contextKey = "config"

// Selection modes
const (
	SelectorEnergy = "energy"
	SelectorGemini = "gemini"
)

// Detector kinds
const (
	DetectorONNX = "onnx"
	DetectorNone = "none"
)

// Config holds all application configuration
type Config struct {
	// Core settings
	WorkDir   string `yaml:"work_dir" toml:"work_dir"`
	TempDir   string `yaml:"temp_dir" toml:"temp_dir"`
	OutputDir string `yaml:"output_dir" toml:"output_dir"`

	Selection SelectionConfig `yaml:"selection" toml:"selection"`
	Energy    EnergyConfig    `yaml:"energy" toml:"energy"`
	Tracking  TrackingConfig  `yaml:"tracking" toml:"tracking"`
	Crop      CropConfig      `yaml:"crop" toml:"crop"`
	Captions  CaptionConfig   `yaml:"captions" toml:"captions"`
	Render    RenderConfig    `yaml:"render" toml:"render"`
	FFmpeg    FFmpegConfig    `yaml:"ffmpeg" toml:"ffmpeg"`
	Gemini    GeminiConfig    `yaml:"gemini" toml:"gemini"`
	Retry     RetryConfig     `yaml:"retry" toml:"retry"`
	Pipeline  PipelineConfig  `yaml:"pipeline" toml:"pipeline"`
	Store     StoreConfig     `yaml:"store" toml:"store"`
	Server    ServerConfig    `yaml:"server" toml:"server"`
}

type SelectionConfig struct {
	Mode string `yaml:"mode" toml:"mode"`
}

// EnergyConfig drives loudness based segment scoring. Times are seconds.
type EnergyConfig struct {
	WindowSeconds float64 `yaml:"window_seconds" toml:"window_seconds"`
	StepSeconds   float64 `yaml:"step_seconds" toml:"step_seconds"`
	TopK          int     `yaml:"top_k" toml:"top_k"`
	FrameLength   int     `yaml:"frame_length" toml:"frame_length"`
	HopLength     int     `yaml:"hop_length" toml:"hop_length"`
	// SampleRate of the decoded analysis audio; 0 keeps the source rate.
	SampleRate int    `yaml:"sample_rate" toml:"sample_rate"`
	Reason     string `yaml:"reason" toml:"reason"`
}

type TrackingConfig struct {
	SampleInterval float64 `yaml:"sample_interval" toml:"sample_interval"`
	Detector       string  `yaml:"detector" toml:"detector"`
	ModelPath      string  `yaml:"model_path" toml:"model_path"`
	// RuntimePath points at the onnxruntime shared library; empty uses the default lookup.
	RuntimePath    string  `yaml:"runtime_path" toml:"runtime_path"`
	ScoreThreshold float64 `yaml:"score_threshold" toml:"score_threshold"`
	IOUThreshold   float64 `yaml:"iou_threshold" toml:"iou_threshold"`
	// DetectWidth downsizes frames before detection; 0 disables it.
	DetectWidth int `yaml:"detect_width" toml:"detect_width"`
}

type CropConfig struct {
	AspectWidth     int `yaml:"aspect_width" toml:"aspect_width"`
	AspectHeight    int `yaml:"aspect_height" toml:"aspect_height"`
	SmoothingWindow int `yaml:"smoothing_window" toml:"smoothing_window"`
}

type CaptionConfig struct {
	Enabled        bool    `yaml:"enabled" toml:"enabled"`
	GroupSize      int     `yaml:"group_size" toml:"group_size"`
	BridgeGap      float64 `yaml:"bridge_gap" toml:"bridge_gap"`
	TrailingPad    float64 `yaml:"trailing_pad" toml:"trailing_pad"`
	LastLinger     float64 `yaml:"last_linger" toml:"last_linger"`
	ActiveBuffer   float64 `yaml:"active_buffer" toml:"active_buffer"`
	FontSize       float64 `yaml:"font_size" toml:"font_size"`
	Spacing        int     `yaml:"spacing" toml:"spacing"`
	Padding        int     `yaml:"padding" toml:"padding"`
	BaselineRatio  float64 `yaml:"baseline_ratio" toml:"baseline_ratio"`
	BackdropAlpha  float64 `yaml:"backdrop_alpha" toml:"backdrop_alpha"`
	TextColor      string  `yaml:"text_color" toml:"text_color"`
	HighlightColor string  `yaml:"highlight_color" toml:"highlight_color"`
	WriteSRT       bool    `yaml:"write_srt" toml:"write_srt"`
	WriteDocx      bool    `yaml:"write_docx" toml:"write_docx"`
}

type RenderConfig struct {
	FPS        float64 `yaml:"fps" toml:"fps"`
	Container  string  `yaml:"container" toml:"container"`
	VideoCodec string  `yaml:"video_codec" toml:"video_codec"`
	AudioCodec string  `yaml:"audio_codec" toml:"audio_codec"`
	CRF        int     `yaml:"crf" toml:"crf"`
	Preset     string  `yaml:"preset" toml:"preset"`
}

type FFmpegConfig struct {
	BinaryPath string `yaml:"binary_path" toml:"binary_path"`
	ProbePath  string `yaml:"probe_path" toml:"probe_path"`
	Threads    int    `yaml:"threads" toml:"threads"`
}

type GeminiConfig struct {
	APIKeyEnv        string  `yaml:"api_key_env" toml:"api_key_env"`
	SelectorModel    string  `yaml:"selector_model" toml:"selector_model"`
	TranscriberModel string  `yaml:"transcriber_model" toml:"transcriber_model"`
	PollInterval     float64 `yaml:"poll_interval" toml:"poll_interval"`
}

// RetryConfig bounds retries of rate limited collaborator calls. Seconds.
type RetryConfig struct {
	MaxAttempts int     `yaml:"max_attempts" toml:"max_attempts"`
	BaseDelay   float64 `yaml:"base_delay" toml:"base_delay"`
	MaxDelay    float64 `yaml:"max_delay" toml:"max_delay"`
	Multiplier  float64 `yaml:"multiplier" toml:"multiplier"`
}

type PipelineConfig struct {
	SegmentCooldown float64 `yaml:"segment_cooldown" toml:"segment_cooldown"`
}

type StoreConfig struct {
	Path string `yaml:"path" toml:"path"`
}

type ServerConfig struct {
	Addr string `yaml:"addr" toml:"addr"`
}

// AspectRatio returns the crop width/height ratio
func (c CropConfig) AspectRatio() float64 {
	if c.AspectHeight == 0 {
		return 0
	}
	return float64(c.AspectWidth) / float64(c.AspectHeight)
}

// Load reads configuration from file or returns defaults
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path == "" {
		path = findConfigFile()
	}

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := unmarshal(path, data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save writes configuration to file
func (c *Config) Save(path string) error {
	data, err := c.Marshal(path)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// Marshal encodes the config in the format implied by path's extension
func (c *Config) Marshal(path string) ([]byte, error) {
	if isTOML(path) {
		return toml.Marshal(c)
	}
	return yaml.Marshal(c)
}

func unmarshal(path string, data []byte, cfg *Config) error {
	if isTOML(path) {
		return toml.Unmarshal(data, cfg)
	}
	return yaml.Unmarshal(data, cfg)
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

// Validate rejects values the pipeline cannot run with
func (c *Config) Validate() error {
	switch c.Selection.Mode {
	case SelectorEnergy, SelectorGemini:
	default:
		return fmt.Errorf("selection.mode must be %q or %q, got %q", SelectorEnergy, SelectorGemini, c.Selection.Mode)
	}
	if c.Energy.WindowSeconds <= 0 {
		return fmt.Errorf("energy.window_seconds must be positive")
	}
	if c.Energy.StepSeconds <= 0 {
		return fmt.Errorf("energy.step_seconds must be positive")
	}
	if c.Energy.TopK <= 0 {
		return fmt.Errorf("energy.top_k must be positive")
	}
	if c.Energy.FrameLength <= 0 || c.Energy.HopLength <= 0 {
		return fmt.Errorf("energy.frame_length and energy.hop_length must be positive")
	}
	if c.Tracking.SampleInterval <= 0 {
		return fmt.Errorf("tracking.sample_interval must be positive")
	}
	switch c.Tracking.Detector {
	case DetectorONNX, DetectorNone:
	default:
		return fmt.Errorf("tracking.detector must be %q or %q, got %q", DetectorONNX, DetectorNone, c.Tracking.Detector)
	}
	if c.Crop.AspectWidth <= 0 || c.Crop.AspectHeight <= 0 {
		return fmt.Errorf("crop aspect ratio must be positive")
	}
	if c.Crop.SmoothingWindow <= 0 {
		return fmt.Errorf("crop.smoothing_window must be positive")
	}
	if c.Captions.GroupSize <= 0 {
		return fmt.Errorf("captions.group_size must be positive")
	}
	if c.Captions.BackdropAlpha < 0 || c.Captions.BackdropAlpha > 1 {
		return fmt.Errorf("captions.backdrop_alpha must be within [0, 1]")
	}
	if c.Render.FPS <= 0 {
		return fmt.Errorf("render.fps must be positive")
	}
	if c.Render.CRF < 0 || c.Render.CRF > 51 {
		return fmt.Errorf("render.crf must be between 0 and 51")
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry.max_attempts must be positive")
	}
	return nil
}

func defaultConfig() *Config {
	return &Config{
		WorkDir:   "./work",
		TempDir:   os.TempDir(),
		OutputDir: "./outputs",
		Selection: SelectionConfig{
			Mode: SelectorEnergy,
		},
		Energy: EnergyConfig{
			WindowSeconds: 60,
			StepSeconds:   20,
			TopK:          3,
			FrameLength:   2048,
			HopLength:     512,
			SampleRate:    0,
			Reason:        "High Energy / Loudness Peak",
		},
		Tracking: TrackingConfig{
			SampleInterval: 0.5,
			Detector:       DetectorNone,
			ModelPath:      "./models/version-RFB-320.onnx",
			ScoreThreshold: 0.7,
			IOUThreshold:   0.3,
			DetectWidth:    640,
		},
		Crop: CropConfig{
			AspectWidth:     9,
			AspectHeight:    16,
			SmoothingWindow: 5,
		},
		Captions: CaptionConfig{
			Enabled:        true,
			GroupSize:      4,
			BridgeGap:      3.0,
			TrailingPad:    0.5,
			LastLinger:     1.5,
			ActiveBuffer:   0.5,
			FontSize:       32,
			Spacing:        20,
			Padding:        20,
			BaselineRatio:  0.85,
			BackdropAlpha:  0.6,
			TextColor:      "#FFFFFF",
			HighlightColor: "#FFD400",
		},
		Render: RenderConfig{
			FPS:        24,
			Container:  "mp4",
			VideoCodec: "libx264",
			AudioCodec: "aac",
			CRF:        23,
			Preset:     "medium",
		},
		FFmpeg: FFmpegConfig{
			BinaryPath: "ffmpeg",
			ProbePath:  "ffprobe",
			Threads:    0,
		},
		Gemini: GeminiConfig{
			APIKeyEnv:        "GOOGLE_API_KEY",
			SelectorModel:    "gemini-2.0-flash-lite",
			TranscriberModel: "gemini-2.0-flash",
			PollInterval:     5,
		},
		Retry: RetryConfig{
			MaxAttempts: 5,
			BaseDelay:   60,
			MaxDelay:    60,
			Multiplier:  1,
		},
		Store: StoreConfig{
			Path: "./work/reelcutter.db",
		},
		Server: ServerConfig{
			Addr: "127.0.0.1:5000",
		},
	}
}

// Default returns a fresh copy of the built-in configuration
func Default() *Config {
	return defaultConfig()
}

func findConfigFile() string {
	candidates := []string{
		"./config.yaml",
		"./config.yml",
		"./config.toml",
		filepath.Join(os.Getenv("HOME"), ".reelcutter", "config.yaml"),
		filepath.Join(os.Getenv("HOME"), ".reelcutter", "config.toml"),
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// WithConfig stores config in context
func WithConfig(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configKey, cfg)
}

// FromContext retrieves config from context
func FromContext(ctx context.Context) *Config {
	if cfg, ok := ctx.Value(configKey).(*Config); ok {
		return cfg
	}
	return defaultConfig()
}
