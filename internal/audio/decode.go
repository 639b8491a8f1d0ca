// Package audio turns uploaded recordings into per-channel sample buffers.
package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/go-audio/wav"
	"github.com/mewkiz/flac"
)

// ErrUnsupportedFormat is returned for inputs that are neither FLAC nor WAV.
var ErrUnsupportedFormat = errors.New("unsupported audio format")

// Buffer holds de-interleaved samples scaled to [-1, 1].
type Buffer struct {
	SampleRate int
	Channels   [][]float32
}

// Frames is the number of samples per channel.
func (b Buffer) Frames() int {
	if len(b.Channels) == 0 {
		return 0
	}
	return len(b.Channels[0])
}

// Seconds is the recording length.
func (b Buffer) Seconds() float64 {
	if b.SampleRate <= 0 {
		return 0
	}
	return float64(b.Frames()) / float64(b.SampleRate)
}

// Decode sniffs the container and decodes the whole recording.
func Decode(data []byte) (Buffer, error) {
	switch {
	case bytes.HasPrefix(data, []byte("fLaC")):
		return decodeFLAC(data)
	case bytes.HasPrefix(data, []byte("RIFF")):
		return decodeWAV(data)
	default:
		return Buffer{}, ErrUnsupportedFormat
	}
}

func decodeFLAC(data []byte) (Buffer, error) {
	stream, err := flac.New(bytes.NewReader(data))
	if err != nil {
		return Buffer{}, fmt.Errorf("open flac: %w", err)
	}
	defer stream.Close()

	info := stream.Info
	if info.NChannels == 0 || info.BitsPerSample == 0 {
		return Buffer{}, errors.New("flac: missing stream info")
	}
	scale := fullScale(int(info.BitsPerSample))
	buf := Buffer{
		SampleRate: int(info.SampleRate),
		Channels:   make([][]float32, info.NChannels),
	}
	if info.NSamples > 0 {
		for ch := range buf.Channels {
			buf.Channels[ch] = make([]float32, 0, info.NSamples)
		}
	}

	for {
		frame, err := stream.ParseNext()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Buffer{}, fmt.Errorf("flac frame: %w", err)
		}
		for ch, sub := range frame.Subframes {
			if ch >= len(buf.Channels) {
				break
			}
			for _, s := range sub.Samples {
				buf.Channels[ch] = append(buf.Channels[ch], float32(float64(s)/scale))
			}
		}
	}
	return buf, nil
}

func decodeWAV(data []byte) (Buffer, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return Buffer{}, errors.New("wav: invalid file")
	}
	pcm, err := dec.FullPCMBuffer()
	if err != nil {
		return Buffer{}, fmt.Errorf("wav: read pcm: %w", err)
	}
	channels := int(dec.NumChans)
	if channels == 0 {
		return Buffer{}, errors.New("wav: no channels")
	}
	depth := int(dec.BitDepth)
	scale := fullScale(depth)

	frames := len(pcm.Data) / channels
	buf := Buffer{
		SampleRate: int(dec.SampleRate),
		Channels:   make([][]float32, channels),
	}
	for ch := range buf.Channels {
		buf.Channels[ch] = make([]float32, frames)
	}
	for i := 0; i < frames*channels; i++ {
		v := pcm.Data[i]
		// 8-bit wav is unsigned.
		if depth == 8 {
			v -= 128
		}
		buf.Channels[i%channels][i/channels] = float32(float64(v) / scale)
	}
	return buf, nil
}

func fullScale(bits int) float64 {
	if bits <= 1 {
		return 1
	}
	return float64(int64(1) << (bits - 1))
}
