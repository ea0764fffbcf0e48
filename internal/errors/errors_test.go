package errors

import (
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProcessErrorMatchesKind(t *testing.T) {
	err := NewProcessError(ErrTranscode, "ffmpeg", "transcode", 1, "bad input", os.ErrNotExist)

	assert := assert.New(t)
	assert.ErrorIs(err, ErrTranscode)
	assert.ErrorIs(err, os.ErrNotExist)
	assert.NotErrorIs(err, ErrSynthesis)
	assert.Contains(err.Error(), "ffmpeg failed at transcode (exit 1): bad input")

	var pe *ProcessError
	if assert.True(errors.As(err, &pe)) {
		assert.Equal(1, pe.ExitCode)
		assert.Equal("ffmpeg", pe.Tool)
	}
}

func TestWrapKeepsBothChains(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(ErrPitchExtraction, cause, "decode %s", "track.json")

	assert := assert.New(t)
	assert.ErrorIs(err, ErrPitchExtraction)
	assert.ErrorIs(err, cause)
	assert.Equal("pitch extraction failed: decode track.json: boom", err.Error())
	assert.Equal(ErrPitchExtraction, Kind(err))
}

func TestStackTraceIsPrinted(t *testing.T) {
	err := Newf(ErrSegmentation, "onsets not increasing at %d", 3)
	verbose := fmt.Sprintf("%+v", err)

	assert.Contains(t, verbose, "onsets not increasing at 3")
	assert.Contains(t, verbose, "TestStackTraceIsPrinted")
}

func TestKindOfUnrelatedError(t *testing.T) {
	assert.Nil(t, Kind(errors.New("plain")))
	assert.Equal(t, ErrInstrumentMissing, Kind(fmt.Errorf("wrap: %w", ErrInstrumentMissing)))
}
