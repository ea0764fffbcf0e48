package audio

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/edoardograci/track-loop-main/internal/errors"
)

func TestDetectFormat(t *testing.T) {
	dir := t.TempDir()

	cases := []struct {
		name   string
		file   string
		header []byte
		want   Format
	}{
		{"wav", "a.bin", []byte("RIFF\x00\x00\x00\x00WAVEfmt "), FormatWAV},
		{"webm", "a.bin", []byte{0x1A, 0x45, 0xDF, 0xA3, 0x9F, 0x42, 0x86, 0x81}, FormatWebM},
		{"ogg", "a.bin", []byte("OggS\x00\x02\x00\x00"), FormatOGG},
		{"flac", "a.bin", []byte("fLaC\x00\x00\x00\x22"), FormatFLAC},
		{"id3", "a.bin", []byte("ID3\x04\x00\x00\x00\x00"), FormatMP3},
		{"mpeg sync", "a.bin", []byte{0xFF, 0xFB, 0x90, 0x64, 0, 0}, FormatMP3},
		{"m4a", "a.bin", []byte("\x00\x00\x00\x20ftypM4A "), FormatM4A},
		{"extension fallback", "voice.webm", []byte("garbage!"), FormatWebM},
		{"unknown", "notes.txt", []byte("hello world"), FormatUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(dir, tc.name+"-"+tc.file)
			require.NoError(t, os.WriteFile(path, tc.header, 0o644))

			got, err := detectFormat(path)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestValidateInput(t *testing.T) {
	dir := t.TempDir()

	_, err := ValidateInput(filepath.Join(dir, "missing.webm"), 0)
	assert.ErrorIs(t, err, apperrors.ErrFileNotFound)

	big := filepath.Join(dir, "big.wav")
	writePCM16(t, big, 8000, 1, make([]int16, 1024))
	_, err = ValidateInput(big, 100)
	assert.ErrorIs(t, err, apperrors.ErrFileTooLarge)

	format, err := ValidateInput(big, 0)
	require.NoError(t, err)
	assert.Equal(t, FormatWAV, format)
	assert.False(t, format.NeedsTranscode())
	assert.True(t, FormatWebM.NeedsTranscode())

	txt := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(txt, []byte("just some text"), 0o644))
	_, err = ValidateInput(txt, 0)
	assert.ErrorIs(t, err, apperrors.ErrUnsupportedFormat)

	tiny := filepath.Join(dir, "tiny.wav")
	require.NoError(t, os.WriteFile(tiny, []byte("RI"), 0o644))
	_, err = ValidateInput(tiny, 0)
	assert.ErrorIs(t, err, apperrors.ErrCorruptedFile)
}
