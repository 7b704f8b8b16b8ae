package ai

import (
	"image"
	"math"
	"testing"

	"github.com/rs/zerolog"
)

func TestDecodeFaces(t *testing.T) {
	// anchor 0 strong, anchor 1 overlaps it with a lower score, anchor 2 weak
	scores := []float32{
		0.05, 0.95,
		0.2, 0.8,
		0.6, 0.4,
	}
	boxes := []float32{
		0.10, 0.10, 0.30, 0.50,
		0.11, 0.12, 0.31, 0.50,
		0.60, 0.20, 0.80, 0.60,
	}

	faces := decodeFaces(scores, boxes, image.Rect(0, 0, 1000, 500), 0.7, 0.3)
	if len(faces) != 1 {
		t.Fatalf("got %d faces, want 1 after threshold and suppression", len(faces))
	}
	if want := image.Rect(100, 50, 300, 250); faces[0] != want {
		t.Errorf("face = %v, want %v", faces[0], want)
	}
}

func TestDecodeFacesClampsAndKeepsDisjoint(t *testing.T) {
	scores := []float32{0, 0.9, 0, 0.85}
	boxes := []float32{
		-0.1, 0.0, 0.25, 0.5,
		0.75, 0.5, 1.2, 1.1,
	}
	faces := decodeFaces(scores, boxes, image.Rect(0, 0, 100, 100), 0.7, 0.3)
	if len(faces) != 2 {
		t.Fatalf("got %d faces, want 2", len(faces))
	}
	if faces[0] != image.Rect(0, 0, 25, 50) || faces[1] != image.Rect(75, 50, 100, 100) {
		t.Errorf("faces = %v", faces)
	}
}

func TestIOU(t *testing.T) {
	a := [4]float64{0, 0, 2, 2}
	tests := []struct {
		name string
		b    [4]float64
		want float64
	}{
		{"identical", [4]float64{0, 0, 2, 2}, 1},
		{"disjoint", [4]float64{3, 3, 4, 4}, 0},
		{"half overlap", [4]float64{1, 0, 3, 2}, 2.0 / 6.0},
	}
	for _, tt := range tests {
		if got := iou(a, tt.b); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("%s: iou = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestPreprocessFace(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 640, 480))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i] = 255 // red
		img.Pix[i+3] = 255
	}

	data := preprocessFace(img)
	plane := faceInputWidth * faceInputHeight
	if len(data) != 3*plane {
		t.Fatalf("len = %d, want %d", len(data), 3*plane)
	}
	// resampling may round a channel by one step
	if got := data[plane/2]; math.Abs(float64(got)-1) > 0.02 {
		t.Errorf("red channel = %v, want 1", got)
	}
	if got := data[plane+plane/2]; math.Abs(float64(got)+127.0/128) > 0.02 {
		t.Errorf("green channel = %v, want %v", got, -127.0/128)
	}
}

func TestNewFaceDetectorMissingModel(t *testing.T) {
	_, err := NewFaceDetector(zerolog.Nop(), FaceDetectorConfig{ModelPath: "/nonexistent/model.onnx"})
	if err == nil {
		t.Error("expected an error for a missing model file")
	}
}
