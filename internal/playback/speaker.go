// Package playback plays WAV files and blocks until they have finished.
//
// SpeakerPlayer decodes the file and plays it in-process on the default audio
// device. CommandPlayer hands the file to an external player program.
package playback

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/speaker"
	"github.com/gopxl/beep/v2/wav"
)

const (
	speakerBuffer   = time.Second / 10
	resampleQuality = 4
)

// ErrDecode is returned when the file is not playable WAV audio.
var ErrDecode = errors.New("failed to decode audio")

// SpeakerPlayer plays through the process's audio device. The device is
// opened on first use at the sample rate of the first file; later files with a
// different rate are resampled.
type SpeakerPlayer struct {
	log *log.Logger

	mu   sync.Mutex
	rate beep.SampleRate
}

// NewSpeakerPlayer creates a player. No device is opened until Play is called.
func NewSpeakerPlayer(logger *log.Logger) *SpeakerPlayer {
	if logger == nil {
		logger = log.New(io.Discard)
	}

	return &SpeakerPlayer{log: logger}
}

// Play plays the WAV file at path and returns once it has finished. Cancelling
// ctx stops playback early.
func (p *SpeakerPlayer) Play(ctx context.Context, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open audio file: %w", err)
	}

	streamer, format, err := wav.Decode(file)
	if err != nil {
		_ = file.Close()

		return fmt.Errorf("%w: %s: %w", ErrDecode, path, err)
	}
	defer streamer.Close()

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.ensureSpeaker(format.SampleRate)
	if err != nil {
		return err
	}

	var source beep.Streamer = streamer
	if format.SampleRate != p.rate {
		source = beep.Resample(resampleQuality, format.SampleRate, p.rate, streamer)
	}

	done := make(chan struct{})

	p.log.Debugf("Playing %s (%d Hz, %d samples)", path, format.SampleRate, streamer.Len())
	speaker.Play(beep.Seq(source, beep.Callback(func() { close(done) })))

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		speaker.Clear()

		return fmt.Errorf("playback interrupted: %w", ctx.Err())
	}
}

// ensureSpeaker opens the device once; the speaker package cannot be reopened
// at another rate.
func (p *SpeakerPlayer) ensureSpeaker(rate beep.SampleRate) error {
	if p.rate != 0 {
		return nil
	}

	err := speaker.Init(rate, rate.N(speakerBuffer))
	if err != nil {
		return fmt.Errorf("failed to initialize audio device: %w", err)
	}

	p.rate = rate

	return nil
}
