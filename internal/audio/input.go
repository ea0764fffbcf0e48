package audio

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	apperrors "github.com/edoardograci/track-loop-main/internal/errors"
)

const (
	MaxFileSize = 100 * 1024 * 1024 // 100MB
)

// Magic bytes for container detection
var (
	riffMagic = []byte("RIFF")
	waveMagic = []byte("WAVE")
	ebmlMagic = []byte{0x1A, 0x45, 0xDF, 0xA3} // Matroska / WebM
	oggMagic  = []byte("OggS")
	flacMagic = []byte("fLaC")
	id3Magic  = []byte("ID3") // MP3 with ID3 tag
	ftypMagic = []byte("ftyp") // MP4 / M4A, at offset 4
)

// Format represents an audio container format
type Format string

const (
	FormatWAV     Format = "wav"
	FormatWebM    Format = "webm"
	FormatMP3     Format = "mp3"
	FormatOGG     Format = "ogg"
	FormatFLAC    Format = "flac"
	FormatM4A     Format = "m4a"
	FormatUnknown Format = "unknown"
)

// NeedsTranscode reports whether the format must go through ffmpeg before
// samples can be decoded in-process.
func (f Format) NeedsTranscode() bool {
	return f != FormatWAV
}

// ValidateInput checks if the input file is valid for processing
func ValidateInput(path string, maxSize int64) (Format, error) {
	if maxSize <= 0 {
		maxSize = MaxFileSize
	}

	// Check file exists
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return FormatUnknown, fmt.Errorf("%w: %s", apperrors.ErrFileNotFound, path)
	}
	if err != nil {
		return FormatUnknown, fmt.Errorf("stat file: %w", err)
	}
	if info.IsDir() {
		return FormatUnknown, fmt.Errorf("%w: %s is a directory", apperrors.ErrUnsupportedFormat, path)
	}

	// Check file size
	if info.Size() > maxSize {
		return FormatUnknown, fmt.Errorf("%w: maximum size is %dMB", apperrors.ErrFileTooLarge, maxSize/(1024*1024))
	}

	format, err := detectFormat(path)
	if err != nil {
		return FormatUnknown, err
	}

	if format == FormatUnknown {
		return FormatUnknown, fmt.Errorf("%w: %s", apperrors.ErrUnsupportedFormat, filepath.Base(path))
	}

	return format, nil
}

// detectFormat checks file magic bytes to determine the container
func detectFormat(path string) (Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return FormatUnknown, fmt.Errorf("%w: %v", apperrors.ErrCorruptedFile, err)
	}
	defer f.Close()

	// Read first 12 bytes for magic detection
	header := make([]byte, 12)
	n, err := io.ReadFull(f, header)
	if err != nil && err != io.ErrUnexpectedEOF {
		return FormatUnknown, fmt.Errorf("%w: could not read file header", apperrors.ErrCorruptedFile)
	}
	if n < 4 {
		return FormatUnknown, fmt.Errorf("%w: could not read file header", apperrors.ErrCorruptedFile)
	}
	header = header[:n]

	switch {
	case bytes.HasPrefix(header, riffMagic) && n >= 12 && bytes.Equal(header[8:12], waveMagic):
		return FormatWAV, nil
	case bytes.HasPrefix(header, ebmlMagic):
		return FormatWebM, nil
	case bytes.HasPrefix(header, oggMagic):
		return FormatOGG, nil
	case bytes.HasPrefix(header, flacMagic):
		return FormatFLAC, nil
	case bytes.HasPrefix(header, id3Magic):
		return FormatMP3, nil
	case n >= 8 && bytes.Equal(header[4:8], ftypMagic):
		return FormatM4A, nil
	case header[0] == 0xFF && (header[1]&0xE0) == 0xE0:
		// MPEG frame sync
		return FormatMP3, nil
	}

	// Fallback: check extension
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		return FormatWAV, nil
	case ".webm", ".mkv":
		return FormatWebM, nil
	case ".mp3":
		return FormatMP3, nil
	case ".ogg", ".oga", ".opus":
		return FormatOGG, nil
	case ".flac":
		return FormatFLAC, nil
	case ".m4a", ".mp4", ".aac":
		return FormatM4A, nil
	}

	return FormatUnknown, nil
}
