package ai

import (
	"context"
	"fmt"
	"image"
	"os"
	"sort"

	"github.com/nfnt/resize"
	"github.com/rs/zerolog"
	ort "github.com/yalue/onnxruntime_go"
)

// UltraFace RFB-320 geometry
const (
	faceInputWidth  = 320
	faceInputHeight = 240
	faceAnchors     = 4420
)

// FaceDetectorConfig configures the ONNX face detector
type FaceDetectorConfig struct {
	ModelPath      string
	RuntimePath    string
	ScoreThreshold float64
	IOUThreshold   float64
}

// FaceDetector finds faces with the UltraFace RFB-320 ONNX model
type FaceDetector struct {
	logger     zerolog.Logger
	cfg        FaceDetectorConfig
	inputShape ort.Shape
	session    *ort.DynamicAdvancedSession
}

// NewFaceDetector loads the model and initializes the ONNX runtime
func NewFaceDetector(logger zerolog.Logger, cfg FaceDetectorConfig) (*FaceDetector, error) {
	if _, err := os.Stat(cfg.ModelPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("model file not found: %s", cfg.ModelPath)
	}

	if cfg.RuntimePath != "" {
		ort.SetSharedLibraryPath(cfg.RuntimePath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("failed to initialize ONNX runtime: %w", err)
	}

	inputNames := []string{"input"}
	outputNames := []string{"scores", "boxes"}

	sess, err := ort.NewDynamicAdvancedSession(cfg.ModelPath, inputNames, outputNames, nil)
	if err != nil {
		ort.DestroyEnvironment()
		return nil, fmt.Errorf("failed to create face session: %w", err)
	}

	logger.Info().
		Str("model", cfg.ModelPath).
		Strs("inputs", inputNames).
		Strs("outputs", outputNames).
		Msg("face model loaded")

	return &FaceDetector{
		logger:     logger.With().Str("component", "face-detector").Logger(),
		cfg:        cfg,
		inputShape: ort.NewShape(1, 3, faceInputHeight, faceInputWidth),
		session:    sess,
	}, nil
}

// Detect returns face boxes in img pixel coordinates
func (f *FaceDetector) Detect(ctx context.Context, img image.Image) ([]image.Rectangle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	input, err := ort.NewTensor(f.inputShape, preprocessFace(img))
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer input.Destroy()

	scores, err := ort.NewEmptyTensor[float32](ort.NewShape(1, faceAnchors, 2))
	if err != nil {
		return nil, fmt.Errorf("failed to create scores tensor: %w", err)
	}
	defer scores.Destroy()

	boxes, err := ort.NewEmptyTensor[float32](ort.NewShape(1, faceAnchors, 4))
	if err != nil {
		return nil, fmt.Errorf("failed to create boxes tensor: %w", err)
	}
	defer boxes.Destroy()

	if err := f.session.Run([]ort.ArbitraryTensor{input}, []ort.ArbitraryTensor{scores, boxes}); err != nil {
		return nil, fmt.Errorf("face inference failed: %w", err)
	}

	faces := decodeFaces(scores.GetData(), boxes.GetData(), img.Bounds(), f.cfg.ScoreThreshold, f.cfg.IOUThreshold)
	f.logger.Debug().Int("faces", len(faces)).Msg("face detection complete")
	return faces, nil
}

// Close releases the session and the ONNX environment
func (f *FaceDetector) Close() error {
	f.logger.Info().Msg("closing face model session")
	if f.session != nil {
		if err := f.session.Destroy(); err != nil {
			return err
		}
	}
	return ort.DestroyEnvironment()
}

// preprocessFace resizes to the model input and normalizes to CHW RGB
// with (v - 127) / 128.
func preprocessFace(img image.Image) []float32 {
	resized := resize.Resize(faceInputWidth, faceInputHeight, img, resize.Bilinear)
	bounds := resized.Bounds()

	plane := faceInputWidth * faceInputHeight
	data := make([]float32, 3*plane)
	idx := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := resized.At(x, y).RGBA()
			data[idx] = (float32(r>>8) - 127) / 128
			data[plane+idx] = (float32(g>>8) - 127) / 128
			data[2*plane+idx] = (float32(b>>8) - 127) / 128
			idx++
		}
	}
	return data
}

type scoredBox struct {
	box   [4]float64
	score float64
}

// decodeFaces keeps anchors above threshold, suppresses overlaps and maps
// normalized corners onto bounds.
func decodeFaces(scores, boxes []float32, bounds image.Rectangle, threshold, iouThreshold float64) []image.Rectangle {
	n := min(len(scores)/2, len(boxes)/4)

	var candidates []scoredBox
	for i := 0; i < n; i++ {
		score := float64(scores[2*i+1])
		if score < threshold {
			continue
		}
		candidates = append(candidates, scoredBox{
			box: [4]float64{
				float64(boxes[4*i]), float64(boxes[4*i+1]),
				float64(boxes[4*i+2]), float64(boxes[4*i+3]),
			},
			score: score,
		})
	}

	kept := nms(candidates, iouThreshold)

	w, h := float64(bounds.Dx()), float64(bounds.Dy())
	out := make([]image.Rectangle, 0, len(kept))
	for _, c := range kept {
		r := image.Rect(
			bounds.Min.X+int(clamp01(c.box[0])*w),
			bounds.Min.Y+int(clamp01(c.box[1])*h),
			bounds.Min.X+int(clamp01(c.box[2])*w),
			bounds.Min.Y+int(clamp01(c.box[3])*h),
		)
		if !r.Empty() {
			out = append(out, r)
		}
	}
	return out
}

// nms is greedy non-maximum suppression, highest score first
func nms(candidates []scoredBox, iouThreshold float64) []scoredBox {
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})

	var kept []scoredBox
	for _, c := range candidates {
		overlaps := false
		for _, k := range kept {
			if iou(c.box, k.box) > iouThreshold {
				overlaps = true
				break
			}
		}
		if !overlaps {
			kept = append(kept, c)
		}
	}
	return kept
}

func iou(a, b [4]float64) float64 {
	ix := max(0, min(a[2], b[2])-max(a[0], b[0]))
	iy := max(0, min(a[3], b[3])-max(a[1], b[1]))
	inter := ix * iy
	union := (a[2]-a[0])*(a[3]-a[1]) + (b[2]-b[0])*(b[3]-b[1]) - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

func clamp01(v float64) float64 {
	return min(max(v, 0), 1)
}
