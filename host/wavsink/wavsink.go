// Package wavsink writes recorded channels as mono PCM WAV files.
package wavsink

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"adcrec/core"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// wavFormatPCM is the WAVE_FORMAT_PCM tag.
const wavFormatPCM = 1

var ErrChannel = errors.New("channel out of range")

// Writer streams per-channel sample bytes into one WAV file per channel.
// Samples are only encoded once every channel has them, so all files end
// at the length of the shortest channel.
type Writer struct {
	res   core.Resolution
	paths []string
	files []*os.File
	encs  []*wav.Encoder

	pending [][]int
	carry   []int // odd trailing byte of a 16-bit sample, -1 if none
	buf     *audio.IntBuffer

	frames    int
	discarded int
}

// Create opens <dir>/<prefix>_ch<N>.wav for every channel. 8-bit recordings
// are written as unsigned 8-bit PCM; wider ones as signed 16-bit.
func Create(dir, prefix string, channels int, res core.Resolution, sampleRate int) (*Writer, error) {
	if channels < 1 || channels > core.MaxChannels {
		return nil, fmt.Errorf("%d channels: %w", channels, ErrChannel)
	}
	if !res.Valid() {
		return nil, core.ErrResolution
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	bitDepth := 8 * res.BytesPerSample()
	w := &Writer{
		res:     res,
		pending: make([][]int, channels),
		carry:   make([]int, channels),
		buf: &audio.IntBuffer{
			Format:         &audio.Format{NumChannels: 1, SampleRate: sampleRate},
			SourceBitDepth: bitDepth,
		},
	}
	for ch := 0; ch < channels; ch++ {
		w.carry[ch] = -1
		path := filepath.Join(dir, fmt.Sprintf("%s_ch%d.wav", prefix, ch))
		file, err := os.Create(path)
		if err != nil {
			w.closeFiles()
			return nil, err
		}
		w.paths = append(w.paths, path)
		w.files = append(w.files, file)
		w.encs = append(w.encs, wav.NewEncoder(file, sampleRate, bitDepth, 1, wavFormatPCM))
	}
	return w, nil
}

// WriteSamples appends raw device bytes for channel ch: one byte per 8-bit
// sample, little-endian 16-bit otherwise.
func (w *Writer) WriteSamples(ch int, data []byte) error {
	if ch < 0 || ch >= len(w.pending) {
		return fmt.Errorf("channel %d: %w", ch, ErrChannel)
	}

	if w.res == core.Resolution8 {
		for _, b := range data {
			w.pending[ch] = append(w.pending[ch], int(b))
		}
	} else {
		if w.carry[ch] >= 0 && len(data) > 0 {
			w.pending[ch] = append(w.pending[ch], pcm16(byte(w.carry[ch]), data[0]))
			w.carry[ch] = -1
			data = data[1:]
		}
		for len(data) >= 2 {
			w.pending[ch] = append(w.pending[ch], pcm16(data[0], data[1]))
			data = data[2:]
		}
		if len(data) == 1 {
			w.carry[ch] = int(data[0])
		}
	}
	return w.flush()
}

func pcm16(lo, hi byte) int {
	return int(int16(uint16(lo) | uint16(hi)<<8))
}

// flush encodes the samples every channel has.
func (w *Writer) flush() error {
	n := len(w.pending[0])
	for _, p := range w.pending[1:] {
		if len(p) < n {
			n = len(p)
		}
	}
	if n == 0 {
		return nil
	}
	for ch, enc := range w.encs {
		w.buf.Data = w.pending[ch][:n]
		if err := enc.Write(w.buf); err != nil {
			return fmt.Errorf("channel %d: %w", ch, err)
		}
		w.pending[ch] = append(w.pending[ch][:0], w.pending[ch][n:]...)
	}
	w.frames += n
	return nil
}

// Close finalises every file. Samples beyond the shortest channel are
// dropped and counted in Discarded.
func (w *Writer) Close() error {
	for _, p := range w.pending {
		w.discarded += len(p)
	}
	var first error
	for _, enc := range w.encs {
		// an encoder that never saw data still needs its header
		if w.frames == 0 {
			w.buf.Data = nil
			if err := enc.Write(w.buf); err != nil && first == nil {
				first = err
			}
		}
		if err := enc.Close(); err != nil && first == nil {
			first = err
		}
	}
	if err := w.closeFiles(); err != nil && first == nil {
		first = err
	}
	return first
}

func (w *Writer) closeFiles() error {
	var first error
	for _, f := range w.files {
		if err := f.Close(); err != nil && first == nil {
			first = err
		}
	}
	w.files = nil
	return first
}

// Paths returns the file of each channel.
func (w *Writer) Paths() []string {
	return w.paths
}

// Frames returns the samples written to each file.
func (w *Writer) Frames() int {
	return w.frames
}

// Discarded returns the samples dropped on Close to equalise lengths.
func (w *Writer) Discarded() int {
	return w.discarded
}
