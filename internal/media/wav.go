package media

import (
	"fmt"
	"io"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/wav"
)

// Audio is a mono sample buffer tagged with its rate
type Audio struct {
	Samples    []float64
	SampleRate int
	Format     beep.Format
}

// Duration returns the buffer length in seconds
func (a *Audio) Duration() float64 {
	if a.SampleRate == 0 {
		return 0
	}
	return float64(len(a.Samples)) / float64(a.SampleRate)
}

const decodeChunk = 4096

// DecodeWAV reads a PCM WAV stream and downmixes it to mono in [-1, 1]
func DecodeWAV(r io.Reader) (*Audio, error) {
	streamer, format, err := wav.Decode(r)
	if err != nil {
		return nil, err
	}
	defer streamer.Close()

	audio := &Audio{
		SampleRate: int(format.SampleRate),
		Format:     format,
	}
	if audio.SampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", audio.SampleRate)
	}
	if n := streamer.Len(); n > 0 {
		audio.Samples = make([]float64, 0, n)
	}

	gain := pcmGain(format.Precision)
	buf := make([][2]float64, decodeChunk)
	for {
		n, ok := streamer.Stream(buf)
		for _, frame := range buf[:n] {
			// beep duplicates mono input into both channels
			audio.Samples = append(audio.Samples, (frame[0]+frame[1])/2*gain)
		}
		if !ok {
			break
		}
	}
	if err := streamer.Err(); err != nil {
		return nil, err
	}

	return audio, nil
}

// pcmGain rescales beep's signed PCM output to full scale. The wav decoder
// divides 16 and 24-bit samples by 2^bits-1 instead of 2^(bits-1); 8-bit
// samples already span [-1, 1].
func pcmGain(precision int) float64 {
	if precision < 2 {
		return 1
	}
	bits := uint(precision * 8)
	return float64(uint64(1)<<bits-1) / float64(uint64(1)<<(bits-1))
}
