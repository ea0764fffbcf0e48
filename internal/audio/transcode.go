package audio

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/sirupsen/logrus"

	apperrors "github.com/edoardograci/track-loop-main/internal/errors"
	"github.com/edoardograci/track-loop-main/internal/exec"
	"github.com/edoardograci/track-loop-main/internal/logging"
)

// Transcoder converts any container ffmpeg understands into 16-bit PCM WAV.
type Transcoder struct {
	runner     exec.CommandRunner
	bin        string
	sampleRate int
	log        logrus.FieldLogger
}

// NewTranscoder creates a transcoder around the ffmpeg binary bin.
func NewTranscoder(runner exec.CommandRunner, bin string, sampleRate int, log logrus.FieldLogger) *Transcoder {
	if bin == "" {
		bin = "ffmpeg"
	}
	if sampleRate <= 0 {
		sampleRate = 44100
	}
	return &Transcoder{
		runner:     runner,
		bin:        bin,
		sampleRate: sampleRate,
		log:        logging.OrDiscard(log),
	}
}

// Args returns the ffmpeg argument list for src -> dst.
func (t *Transcoder) Args(src, dst string) []string {
	return []string{
		"-y", "-i", src,
		"-vn",
		"-acodec", "pcm_s16le",
		"-ar", strconv.Itoa(t.sampleRate),
		dst,
	}
}

// Transcode writes a PCM WAV of src to dst.
func (t *Transcoder) Transcode(ctx context.Context, src, dst string) error {
	t.log.WithFields(logrus.Fields{
		logging.FieldTool:   t.bin,
		logging.FieldInput:  src,
		logging.FieldOutput: dst,
	}).Info("extracting audio")

	result, err := t.runner.Run(ctx, t.bin, t.Args(src, dst)...)
	if err != nil {
		code, stderr := 0, ""
		if result != nil {
			code, stderr = result.ExitCode, tail(result.Stderr, 2048)
		}
		return apperrors.NewProcessError(apperrors.ErrTranscode, t.bin, "transcode", code, stderr, err)
	}

	info, err := os.Stat(dst)
	if err != nil || info.Size() == 0 {
		return apperrors.Newf(apperrors.ErrTranscode, "%s produced no output at %s", t.bin, dst)
	}
	return nil
}

// tail keeps the last n bytes of s; ffmpeg puts the useful part of its
// diagnostics at the end.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return fmt.Sprintf("...%s", s[len(s)-n:])
}
