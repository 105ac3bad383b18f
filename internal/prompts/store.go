// Package prompts stores the operator-editable prompt profiles that drive
// call analysis. Each profile is a pair of plain-text files, instruction and
// template, under <dir>/<profile>/.
package prompts

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Profile names a prompt profile.
type Profile string

// Built-in profiles.
const (
	Analysis Profile = "analysis" // call analysis, used for audio comments and /call_summary
	Summary  Profile = "summary"  // driver-profile summary, edited from the admin panel
	Speakers Profile = "speakers" // speaker-split transcript, used by /transcribe
)

// Field is one half of a profile.
type Field string

const (
	Instruction Field = "instruction"
	Template    Field = "template"
)

// Pair is the instruction and template text of a profile.
type Pair struct {
	Instruction string `json:"instruction"`
	Template    string `json:"template"`
}

// Effective joins the pair into the system prompt sent to the generator.
func (p Pair) Effective() string {
	return p.Instruction + "\n\n" + p.Template
}

const (
	defaultInstruction = "You are an HR expert. Analyze the call with the driver and give a professional report."
	defaultTemplate    = "Standard response template unavailable."
)

var defaults = map[Profile]Pair{
	Analysis: {
		Instruction: defaultInstruction,
		Template:    defaultTemplate,
	},
	Summary: {
		Instruction: "You are an HR expert. Summarize the driver's profile from the call: experience, equipment and availability.",
		Template:    defaultTemplate,
	},
	Speakers: {
		Instruction: "Transcribe this audio recording and split the speech by speaker.",
		Template:    "Response format:\n\nSpeaker 1: [text]\nSpeaker 2: [text]\n\nIf you cannot identify the speakers, return the full transcript.",
	},
}

// Profiles returns the built-in profile names in display order.
func Profiles() []Profile {
	return []Profile{Analysis, Summary, Speakers}
}

// Default returns the built-in pair for a profile. Unknown profiles get the
// analysis defaults.
func Default(p Profile) Pair {
	if d, ok := defaults[p]; ok {
		return d
	}
	return defaults[Analysis]
}

// IsKnown reports whether p is a built-in profile.
func IsKnown(p Profile) bool {
	_, ok := defaults[p]
	return ok
}

// ParseField converts a string into a Field.
func ParseField(s string) (Field, bool) {
	switch Field(s) {
	case Instruction, Template:
		return Field(s), true
	}
	return "", false
}

func (p Pair) get(f Field) string {
	if f == Template {
		return p.Template
	}
	return p.Instruction
}

var profileNameRe = regexp.MustCompile(`^[a-z0-9_-]+$`)

// Store reads and writes prompt profiles with an in-memory cache. Reads never
// fail: a missing file is created with the default text and an unreadable
// one yields the default.
type Store struct {
	dir string
	log zerolog.Logger

	mu    sync.Mutex
	cache map[cacheKey]string
	gen   uint64 // bumped by every invalidation
}

type cacheKey struct {
	profile Profile
	field   Field
}

// StoreOpts holds parameters for creating a Store.
type StoreOpts struct {
	Dir    string
	Logger *zerolog.Logger // defaults to a no-op logger
}

// NewStore creates a Store rooted at opts.Dir. The directory is created on
// first write, not here.
func NewStore(opts StoreOpts) (*Store, error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("prompts: dir is required")
	}
	log := zerolog.Nop()
	if opts.Logger != nil {
		log = opts.Logger.With().Str("component", "prompts").Logger()
	}
	return &Store{
		dir:   opts.Dir,
		log:   log,
		cache: make(map[cacheKey]string),
	}, nil
}

// Dir returns the root directory of the store.
func (s *Store) Dir() string {
	return s.dir
}

// Path returns the backing file for a profile field.
func (s *Store) Path(p Profile, f Field) string {
	return filepath.Join(s.dir, string(p), string(f))
}

// Get returns the instruction and template for a profile.
func (s *Store) Get(p Profile) Pair {
	return Pair{
		Instruction: s.read(p, Instruction),
		Template:    s.read(p, Template),
	}
}

// Effective returns instruction + "\n\n" + template for a profile.
func (s *Store) Effective(p Profile) string {
	return s.Get(p).Effective()
}

func (s *Store) read(p Profile, f Field) string {
	key := cacheKey{p, f}
	s.mu.Lock()
	if v, ok := s.cache[key]; ok {
		s.mu.Unlock()
		return v
	}
	gen := s.gen
	s.mu.Unlock()

	def := Default(p).get(f)
	if !profileNameRe.MatchString(string(p)) {
		s.log.Error().Str("profile", string(p)).Msg("invalid profile name, using default")
		return def
	}

	path := s.Path(p, f)
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		text := normalize(string(data))
		s.store(key, text, gen)
		return text
	case errors.Is(err, fs.ErrNotExist):
		werr := createFile(path, def)
		if errors.Is(werr, fs.ErrExist) {
			// Saved concurrently; that content wins over the default.
			if data, err := os.ReadFile(path); err == nil {
				text := normalize(string(data))
				s.store(key, text, gen)
				return text
			}
			return def
		}
		if werr != nil {
			s.log.Error().Err(werr).Str("path", path).Msg("create default prompt")
			return def
		}
		s.log.Info().Str("path", path).Msg("created default prompt")
		s.store(key, def, gen)
		return def
	default:
		s.log.Error().Err(err).Str("path", path).Msg("read prompt")
		return def
	}
}

// store caches v unless the cache was invalidated after the read that
// produced it began; a Save racing with that read must win.
func (s *Store) store(key cacheKey, v string, gen uint64) {
	s.mu.Lock()
	if s.gen == gen {
		s.cache[key] = v
	}
	s.mu.Unlock()
}

// Save writes one field of a profile and drops its cache entry. Line endings
// are normalized to LF and leading byte-order marks are removed. Returns
// false if the write fails.
func (s *Store) Save(p Profile, f Field, content string) bool {
	if !profileNameRe.MatchString(string(p)) {
		s.log.Error().Str("profile", string(p)).Msg("invalid profile name")
		return false
	}
	if _, ok := ParseField(string(f)); !ok {
		s.log.Error().Str("field", string(f)).Msg("invalid prompt field")
		return false
	}
	path := s.Path(p, f)
	if err := writeFile(path, normalize(content)); err != nil {
		s.log.Error().Err(err).Str("path", path).Msg("save prompt")
		return false
	}
	s.Invalidate(p, f)
	s.log.Info().Str("profile", string(p)).Str("field", string(f)).Msg("prompt saved")
	return true
}

// Invalidate drops the cached value of one profile field.
func (s *Store) Invalidate(p Profile, f Field) {
	s.mu.Lock()
	delete(s.cache, cacheKey{p, f})
	s.gen++
	s.mu.Unlock()
}

// InvalidateAll empties the cache.
func (s *Store) InvalidateAll() {
	s.mu.Lock()
	s.cache = make(map[cacheKey]string)
	s.gen++
	s.mu.Unlock()
}

func writeFile(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(content), 0644)
}

// createFile writes content to path only if it does not exist yet.
func createFile(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(content); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// normalize strips leading BOMs and converts CRLF and CR line endings to LF.
func normalize(text string) string {
	text = strings.TrimLeft(text, "\ufeff")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.ReplaceAll(text, "\r", "\n")
}
