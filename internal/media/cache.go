// Package media stages chat attachments in a local scratch directory for
// the transcription pipeline and sweeps files that outlive their handler.
package media

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/zulandar/callsheet/internal/failure"
)

const (
	// DefaultMaxBytes is the attachment ceiling when none is configured.
	DefaultMaxBytes int64 = 300 << 20
	// DefaultRetention is how long a scratch file may live before a sweep
	// removes it.
	DefaultRetention = 60 * time.Minute
)

// Attachment describes a remote file as announced by the chat transport.
type Attachment struct {
	ID     string // transport file identifier, used for naming
	Source string // download locator such as a URL; ID is used when empty
	Name   string // original filename, may be empty
	MIME   string
	Size   int64 // declared size in bytes; 0 when unknown
	Voice  bool  // voice note rather than an uploaded audio file
}

// Locator returns what the Downloader is asked to fetch.
func (a Attachment) Locator() string {
	if a.Source != "" {
		return a.Source
	}
	return a.ID
}

// IsAudio reports whether the attachment looks like audio by MIME type,
// voice flag or filename extension.
func (a Attachment) IsAudio() bool {
	if a.Voice || strings.HasPrefix(a.MIME, "audio/") {
		return true
	}
	switch strings.ToLower(filepath.Ext(a.Name)) {
	case ".mp3", ".ogg", ".oga", ".opus", ".wav", ".m4a", ".aac", ".flac", ".webm", ".mp4", ".mpga", ".mpeg":
		return true
	}
	return false
}

// Downloader fetches a remote attachment by its transport identifier.
type Downloader interface {
	Download(ctx context.Context, fileID string, w io.Writer) error
}

// Cache owns the scratch directory.
type Cache struct {
	dir        string
	maxBytes   int64
	retention  time.Duration
	timeout    time.Duration
	downloader Downloader
	now        func() time.Time
	log        zerolog.Logger
}

// CacheOpts holds parameters for creating a Cache.
type CacheOpts struct {
	Dir        string
	Downloader Downloader
	MaxBytes   int64         // defaults to DefaultMaxBytes
	Retention  time.Duration // defaults to DefaultRetention
	Timeout    time.Duration // bounds a single download; 0 means no bound
	Logger     *zerolog.Logger
}

// NewCache creates a Cache. The directory is created lazily on Stage.
func NewCache(opts CacheOpts) (*Cache, error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("media: dir is required")
	}
	if opts.Downloader == nil {
		return nil, fmt.Errorf("media: downloader is required")
	}
	c := &Cache{
		dir:        opts.Dir,
		maxBytes:   opts.MaxBytes,
		retention:  opts.Retention,
		timeout:    opts.Timeout,
		downloader: opts.Downloader,
		now:        time.Now,
		log:        zerolog.Nop(),
	}
	if c.maxBytes <= 0 {
		c.maxBytes = DefaultMaxBytes
	}
	if c.retention <= 0 {
		c.retention = DefaultRetention
	}
	if opts.Logger != nil {
		c.log = opts.Logger.With().Str("component", "media").Logger()
	}
	return c, nil
}

// Dir returns the scratch directory.
func (c *Cache) Dir() string { return c.dir }

// MaxBytes returns the attachment ceiling.
func (c *Cache) MaxBytes() int64 { return c.maxBytes }

// Timeout returns the download bound; zero means none.
func (c *Cache) Timeout() time.Duration { return c.timeout }

// Stage sweeps stale files, applies the size guard and downloads the
// attachment to <dir>/<id><ext>. The caller must Release the returned path.
// Errors are *failure.Error values of kind AttachmentTooLarge or
// DownloadFailure; on error no file is left behind.
func (c *Cache) Stage(ctx context.Context, a Attachment) (string, error) {
	if err := os.MkdirAll(c.dir, 0755); err != nil {
		return "", failure.New(failure.DownloadFailure, "stage", fmt.Errorf("create scratch dir: %w", err))
	}
	c.Sweep(c.now())

	if a.Size > c.maxBytes {
		return "", failure.New(failure.AttachmentTooLarge, "stage",
			fmt.Errorf("declared size %d exceeds limit %d", a.Size, c.maxBytes))
	}
	if a.Locator() == "" {
		return "", failure.New(failure.DownloadFailure, "stage", errors.New("attachment id is required"))
	}

	path := filepath.Join(c.dir, FileName(a))
	f, err := os.Create(path)
	if err != nil {
		return "", failure.New(failure.DownloadFailure, "stage", fmt.Errorf("create %s: %w", path, err))
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	lw := &limitWriter{w: f, remaining: c.maxBytes}
	dlErr := c.downloader.Download(ctx, a.Locator(), lw)
	closeErr := f.Close()
	if dlErr == nil {
		dlErr = closeErr
	}
	if dlErr != nil {
		c.remove(path)
		if lw.exceeded {
			return "", failure.New(failure.AttachmentTooLarge, "stage",
				fmt.Errorf("download exceeds limit %d", c.maxBytes))
		}
		return "", failure.New(failure.DownloadFailure, "stage", dlErr)
	}

	c.log.Debug().Str("path", path).Int64("bytes", lw.written).Dur("took", time.Since(start)).Msg("staged")
	return path, nil
}

// Release deletes a staged file. A missing file is not an error; other
// failures are logged and left to the next sweep.
func (c *Cache) Release(path string) {
	if path == "" {
		return
	}
	c.remove(path)
}

func (c *Cache) remove(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		c.log.Warn().Err(err).Str("path", path).Msg("release failed")
	}
}

// Sweep removes regular files in the scratch directory whose modification
// time is older than the retention window relative to now. It returns the
// number of files removed.
func (c *Cache) Sweep(now time.Time) int {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if !os.IsNotExist(err) {
			c.log.Warn().Err(err).Str("dir", c.dir).Msg("sweep: read dir")
		}
		return 0
	}

	cutoff := now.Add(-c.retention)
	removed := 0
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		path := filepath.Join(c.dir, e.Name())
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			c.log.Warn().Err(err).Str("path", path).Msg("sweep: remove")
			continue
		}
		removed++
	}
	if removed > 0 {
		c.log.Info().Int("removed", removed).Msg("swept stale scratch files")
	}
	return removed
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// maxStem bounds the id part of a scratch name so that names stay well
// under the 255 byte filesystem limit.
const maxStem = 100

// FileName returns the deterministic scratch name for an attachment: the
// sanitized id plus the original extension, or .ogg for voice notes and
// .mp3 for anything else without one. Ids longer than maxStem are replaced
// by their SHA-256.
func FileName(a Attachment) string {
	ext := strings.ToLower(filepath.Ext(a.Name))
	if ext == "" || len(ext) > 6 || unsafeChars.MatchString(ext[1:]) {
		switch {
		case a.Voice, a.MIME == "audio/ogg":
			ext = ".ogg"
		default:
			ext = ".mp3"
		}
	}
	id := a.ID
	if id == "" {
		id = a.Source
	}
	stem := unsafeChars.ReplaceAllString(id, "_")
	if len(stem) > maxStem {
		sum := sha256.Sum256([]byte(id))
		stem = hex.EncodeToString(sum[:])
	}
	return stem + ext
}

// limitWriter fails once more than remaining bytes have been written.
type limitWriter struct {
	w         io.Writer
	remaining int64
	written   int64
	exceeded  bool
}

func (l *limitWriter) Write(p []byte) (int, error) {
	if int64(len(p)) > l.remaining {
		l.exceeded = true
		return 0, errors.New("attachment exceeds size limit")
	}
	n, err := l.w.Write(p)
	l.remaining -= int64(n)
	l.written += int64(n)
	return n, err
}
