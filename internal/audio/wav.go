// Package audio inspects the WAV data returned by synthesis engines.
package audio

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/gopxl/beep/v2/wav"
)

// Limits for a plausible speech WAV.
const (
	MaxSampleRate = 192000
	MaxChannels   = 8
)

// Supported bit depths.
const (
	BitDepth8  = 8
	BitDepth16 = 16
	BitDepth24 = 24
	BitDepth32 = 32
)

const bitsPerByte = 8

// ErrInvalidAudio is returned for data that is not a usable WAV file.
var ErrInvalidAudio = errors.New("invalid audio")

// Info describes a decoded WAV header.
type Info struct {
	SampleRate int
	Channels   int
	BitDepth   int
	Samples    int
	Duration   time.Duration
}

// Inspect decodes the WAV header of data and checks it is within bounds.
func Inspect(data []byte) (Info, error) {
	streamer, format, err := wav.Decode(bytes.NewReader(data))
	if err != nil {
		return Info{}, fmt.Errorf("%w: %w", ErrInvalidAudio, err)
	}
	defer streamer.Close()

	info := Info{
		SampleRate: int(format.SampleRate),
		Channels:   format.NumChannels,
		BitDepth:   format.Precision * bitsPerByte,
		Samples:    streamer.Len(),
	}

	err = info.Validate()
	if err != nil {
		return Info{}, err
	}

	info.Duration = format.SampleRate.D(info.Samples)

	return info, nil
}

// Validate checks the header fields.
func (i Info) Validate() error {
	if i.SampleRate <= 0 || i.SampleRate > MaxSampleRate {
		return fmt.Errorf("%w: sample rate must be between 1 and %d Hz, got %d",
			ErrInvalidAudio, MaxSampleRate, i.SampleRate)
	}

	switch i.BitDepth {
	case BitDepth8, BitDepth16, BitDepth24, BitDepth32:
	default:
		return fmt.Errorf("%w: bit depth must be 8, 16, 24, or 32, got %d", ErrInvalidAudio, i.BitDepth)
	}

	if i.Channels <= 0 || i.Channels > MaxChannels {
		return fmt.Errorf("%w: channels must be between 1 and %d, got %d", ErrInvalidAudio, MaxChannels, i.Channels)
	}

	return nil
}
