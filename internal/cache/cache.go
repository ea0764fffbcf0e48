package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/edoardograci/track-loop-main/internal/audio"
	"github.com/edoardograci/track-loop-main/internal/logging"
	"github.com/edoardograci/track-loop-main/internal/pitch"
)

// scriptsToHash - files that affect pitch extraction (changing these invalidates cache)
var scriptsToHash = []string{
	pitch.ScriptName,
}

// TrackCache stores extracted pitch tracks keyed by audio content
type TrackCache struct {
	dir     string
	version string
}

// Entry describes one cached track
type Entry struct {
	Key      string
	Path     string
	CachedAt time.Time
}

// New creates a track cache under dir. An empty dir uses the user cache
// directory. scriptsDir is hashed into the cache version.
func New(dir, scriptsDir string) (*TrackCache, error) {
	if dir == "" {
		base, err := os.UserCacheDir()
		if err != nil {
			return nil, fmt.Errorf("locate user cache dir: %w", err)
		}
		dir = filepath.Join(base, "track-loop", "tracks")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &TrackCache{dir: dir, version: computeScriptVersion(scriptsDir)}, nil
}

// computeScriptVersion creates a hash from all scripts that affect extraction
func computeScriptVersion(scriptsDir string) string {
	hasher := sha256.New()
	for _, script := range scriptsToHash {
		data, err := os.ReadFile(filepath.Join(scriptsDir, script))
		if err != nil {
			// Script not found - use filename as fallback
			hasher.Write([]byte(script))
			continue
		}
		hasher.Write(data)
	}
	return hex.EncodeToString(hasher.Sum(nil))[:12]
}

// Version returns the current cache version
func (c *TrackCache) Version() string { return c.version }

// Dir returns the cache root
func (c *TrackCache) Dir() string { return c.dir }

// KeyForFile generates a cache key from a file's content hash, the source
// that analysed it and every tracker parameter.
func KeyForFile(path, source string, params pitch.Params) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open file: %w", err)
	}
	defer file.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", fmt.Errorf("hash file: %w", err)
	}

	return fmt.Sprintf("%s_%s_h%d_%s", source, hex.EncodeToString(hash.Sum(nil))[:16], params.HopLength, paramsDigest(params)), nil
}

// paramsDigest fingerprints the tracker parameters
func paramsDigest(p pitch.Params) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d/%d/%d/%g/%g", p.FrameLength, p.WinLength, p.HopLength, p.FMin, p.FMax)))
	return hex.EncodeToString(sum[:])[:8]
}

func (c *TrackCache) trackPath(key string) string {
	return filepath.Join(c.dir, key, "track.json")
}

// Get retrieves a cached track for the given key
func (c *TrackCache) Get(key string) (*pitch.Track, bool) {
	sub := filepath.Join(c.dir, key)

	// Check cache version (computed from script hashes)
	versionData, err := os.ReadFile(filepath.Join(sub, ".version"))
	if err != nil || strings.TrimSpace(string(versionData)) != c.version {
		return nil, false
	}

	data, err := os.ReadFile(c.trackPath(key))
	if err != nil {
		return nil, false
	}
	var track pitch.Track
	if err := json.Unmarshal(data, &track); err != nil {
		return nil, false
	}
	if err := track.Validate(); err != nil {
		return nil, false
	}
	return &track, true
}

// Put stores a track in the cache
func (c *TrackCache) Put(key string, track *pitch.Track) (*Entry, error) {
	sub := filepath.Join(c.dir, key)
	if err := os.MkdirAll(sub, 0o755); err != nil {
		return nil, fmt.Errorf("create cache subdir: %w", err)
	}

	data, err := json.Marshal(track)
	if err != nil {
		return nil, fmt.Errorf("marshal track: %w", err)
	}
	path := c.trackPath(key)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return nil, fmt.Errorf("write track: %w", err)
	}

	// Write cache version last so a partial entry is never read back
	if err := os.WriteFile(filepath.Join(sub, ".version"), []byte(c.version), 0o644); err != nil {
		return nil, fmt.Errorf("write cache version: %w", err)
	}

	return &Entry{Key: key, Path: path, CachedAt: time.Now()}, nil
}

// Clear removes all cached tracks
func (c *TrackCache) Clear() error {
	return os.RemoveAll(c.dir)
}

// Size returns the total size of cached tracks in bytes and the entry count
func (c *TrackCache) Size() (int64, int, error) {
	var totalSize int64
	var count int

	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, 0, nil
		}
		return 0, 0, err
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		count++

		files, _ := os.ReadDir(filepath.Join(c.dir, entry.Name()))
		for _, f := range files {
			if info, err := f.Info(); err == nil {
				totalSize += info.Size()
			}
		}
	}

	return totalSize, count, nil
}

// Source wraps a pitch.Source with the cache. Cache failures never fail
// the extraction.
type Source struct {
	Inner  pitch.Source
	Cache  *TrackCache
	Params pitch.Params
	Log    logrus.FieldLogger
}

var _ pitch.Source = (*Source)(nil)

func (s *Source) Name() string { return s.Inner.Name() }

// Extract implements pitch.Source.
func (s *Source) Extract(ctx context.Context, clip *audio.Clip) (*pitch.Track, error) {
	log := logging.OrDiscard(s.Log)
	if clip == nil || clip.Path == "" {
		return s.Inner.Extract(ctx, clip)
	}

	key, err := KeyForFile(clip.Path, s.Inner.Name(), s.Params)
	if err != nil {
		log.WithError(err).Warn("track cache disabled for this run")
		return s.Inner.Extract(ctx, clip)
	}
	if track, ok := s.Cache.Get(key); ok {
		log.WithField("key", key).Info("using cached pitch track")
		return track, nil
	}

	track, err := s.Inner.Extract(ctx, clip)
	if err != nil {
		return nil, err
	}
	if _, err := s.Cache.Put(key, track); err != nil {
		log.WithError(err).Warn("could not cache pitch track")
	}
	return track, nil
}
