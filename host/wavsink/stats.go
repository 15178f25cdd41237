package wavsink

import (
	"fmt"
	"os"
	"time"

	"github.com/go-audio/wav"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Stats summarises one channel file.
type Stats struct {
	Path       string
	SampleRate int
	BitDepth   int
	Frames     int
	Duration   time.Duration
	Mean       float64
	StdDev     float64
	Min        float64
	Max        float64
}

func (s Stats) String() string {
	return fmt.Sprintf("%s: %d samples (%v) at %d Hz, %d-bit, mean %.2f sd %.2f range [%.0f, %.0f]",
		s.Path, s.Frames, s.Duration.Round(time.Millisecond), s.SampleRate, s.BitDepth,
		s.Mean, s.StdDev, s.Min, s.Max)
}

// Summarize reads a WAV file back and computes basic statistics over its
// raw sample values.
func Summarize(path string) (Stats, error) {
	f, err := os.Open(path)
	if err != nil {
		return Stats{}, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return Stats{}, fmt.Errorf("%s: not a valid WAV file", path)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return Stats{}, fmt.Errorf("%s: %w", path, err)
	}

	s := Stats{
		Path:       path,
		SampleRate: int(dec.SampleRate),
		BitDepth:   int(dec.BitDepth),
		Frames:     len(buf.Data),
	}
	if s.SampleRate > 0 {
		s.Duration = time.Duration(s.Frames) * time.Second / time.Duration(s.SampleRate)
	}
	if s.Frames == 0 {
		return s, nil
	}

	values := make([]float64, len(buf.Data))
	for i, v := range buf.Data {
		values[i] = float64(v)
	}
	s.Mean, s.StdDev = stat.MeanStdDev(values, nil)
	s.Min = floats.Min(values)
	s.Max = floats.Max(values)
	return s, nil
}
