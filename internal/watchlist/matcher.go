// Package watchlist screens names against PEP and sanctions lists.
package watchlist

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/refdata"
)

// Config controls matching. It mirrors domain.FuzzyMatchConfig.
type Config struct {
	Enabled   bool
	Threshold float64
	Mode      string
	Blocking  string
	CacheTTL  time.Duration
}

// ConfigFromPolicy converts the policy section, filling defaults.
func ConfigFromPolicy(p domain.FuzzyMatchConfig) (Config, error) {
	cfg := Config{
		Enabled:   p.Enabled,
		Threshold: p.SimilarityThreshold,
		Mode:      p.Mode,
		Blocking:  p.Blocking,
		CacheTTL:  p.CacheTTL,
	}
	if cfg.Mode == "" {
		cfg.Mode = domain.FuzzyModeBestOverall
	}
	if cfg.Blocking == "" {
		cfg.Blocking = domain.BlockingNone
	}
	return cfg, cfg.Validate()
}

// Validate rejects unknown modes and thresholds outside [0, 1].
func (c Config) Validate() error {
	if c.Threshold < 0 || c.Threshold > 1 {
		return fmt.Errorf("%w: similarity threshold %v outside [0, 1]", domain.ErrInvalidPolicy, c.Threshold)
	}
	switch c.Mode {
	case domain.FuzzyModeBestOverall, domain.FuzzyModePerType:
	default:
		return fmt.Errorf("%w: unknown fuzzy mode %q", domain.ErrInvalidPolicy, c.Mode)
	}
	switch c.Blocking {
	case domain.BlockingNone, domain.BlockingSoundex:
	default:
		return fmt.Errorf("%w: unknown blocking %q", domain.ErrInvalidPolicy, c.Blocking)
	}
	return nil
}

// candidate is one pre-normalized name field of a watchlist entry.
type candidate struct {
	entry  int
	raw    string
	chars  []string
	sorted []rune
}

// Matcher screens names against a watchlist.
// It is safe for concurrent use; Reload swaps the list atomically.
type Matcher struct {
	mu          sync.RWMutex
	cfg         Config
	list        *refdata.Watchlist
	types       []domain.WatchlistType
	candidates  []candidate
	exact       map[string][]int
	soundex     map[string][]int
	cache       domain.Cache
	settingsKey string
}

// NewMatcher indexes the watchlist. cache may be nil.
func NewMatcher(list *refdata.Watchlist, cfg Config, cache domain.Cache) (*Matcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m := &Matcher{
		cfg:         cfg,
		cache:       cache,
		settingsKey: settingsKey(cfg),
	}
	m.index(list)
	return m, nil
}

// Reload replaces the watchlist.
func (m *Matcher) Reload(list *refdata.Watchlist) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.index(list)
}

func (m *Matcher) index(list *refdata.Watchlist) {
	if list == nil {
		list = refdata.NewWatchlist(nil)
	}
	entries := list.Entries()

	m.list = list
	m.types = make([]domain.WatchlistType, len(entries))
	m.candidates = m.candidates[:0:0]
	m.exact = make(map[string][]int)
	m.soundex = make(map[string][]int)

	for i, e := range entries {
		m.types[i] = e.Type
		for _, name := range e.Names() {
			norm := Normalize(name)
			if norm == "" {
				continue
			}
			m.candidates = append(m.candidates, candidate{
				entry:  i,
				raw:    name,
				chars:  splitChars(norm),
				sorted: sortedRunes([]rune(norm)),
			})
			m.exact[norm] = appendUnique(m.exact[norm], i)
			for _, k := range soundexKeys(norm) {
				m.soundex[k] = appendUnique(m.soundex[k], i)
			}
		}
	}
}

func appendUnique(s []int, v int) []int {
	if len(s) > 0 && s[len(s)-1] == v {
		return s
	}
	return append(s, v)
}

// Match screens one name. Exact case-insensitive equality with any name or
// alias takes precedence and always applies; fuzzy matching runs only when
// enabled and no exact hit exists.
func (m *Matcher) Match(name string) domain.MatchResult {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.match(Normalize(name))
}

func (m *Matcher) match(norm string) domain.MatchResult {
	var res domain.MatchResult
	if norm == "" || len(m.candidates) == 0 {
		return res
	}

	if hits, ok := m.exact[norm]; ok {
		res.Exact = true
		res.Similarity = 1
		for _, i := range hits {
			m.flag(&res, m.types[i])
		}
		res.MatchedName = m.list.Entries()[hits[0]].Name
		return res
	}

	if !m.cfg.Enabled {
		return res
	}
	return m.fuzzy(norm)
}

func (m *Matcher) flag(res *domain.MatchResult, t domain.WatchlistType) {
	switch t {
	case domain.WatchlistPEP:
		res.PEPMatch = true
	case domain.WatchlistSanction:
		res.SanctionMatch = true
	}
}

// fuzzy scans candidates in watchlist order. A candidate replaces the current
// best only with a strictly higher ratio, so the earliest best row wins.
// Candidates whose upper bound cannot beat the relevant best are skipped,
// which never changes the outcome.
func (m *Matcher) fuzzy(norm string) domain.MatchResult {
	query := splitChars(norm)
	querySorted := sortedRunes([]rune(norm))
	allowed := m.blockedEntries(norm)

	perType := m.cfg.Mode == domain.FuzzyModePerType
	best := 0.0
	bestIdx := -1
	typeBest := map[domain.WatchlistType]float64{}
	typeIdx := map[domain.WatchlistType]int{}

	for ci := range m.candidates {
		c := &m.candidates[ci]
		if allowed != nil && !allowed[c.entry] {
			continue
		}

		floor := best
		if perType {
			floor = typeBest[m.types[c.entry]]
		}
		if lengthBound(len(query), len(c.chars)) <= floor {
			continue
		}
		if multisetBound(querySorted, c.sorted) <= floor {
			continue
		}

		score := ratioChars(query, c.chars)
		if score > best {
			best = score
			bestIdx = ci
		}
		if t := m.types[c.entry]; score > typeBest[t] {
			typeBest[t] = score
			typeIdx[t] = ci
		}
	}

	res := domain.MatchResult{Similarity: best}
	if bestIdx < 0 {
		return res
	}

	if perType {
		flagged := -1.0
		for _, t := range []domain.WatchlistType{domain.WatchlistPEP, domain.WatchlistSanction} {
			s, ok := typeBest[t]
			if !ok || s < m.cfg.Threshold {
				continue
			}
			m.flag(&res, t)
			if s > flagged {
				flagged = s
				res.MatchedName = m.candidates[typeIdx[t]].raw
			}
		}
		return res
	}

	if best >= m.cfg.Threshold {
		c := m.candidates[bestIdx]
		m.flag(&res, m.types[c.entry])
		res.MatchedName = c.raw
	}
	return res
}

// blockedEntries returns the entries sharing a Soundex key with the query,
// or nil when blocking is off.
func (m *Matcher) blockedEntries(norm string) map[int]bool {
	if m.cfg.Blocking != domain.BlockingSoundex {
		return nil
	}
	allowed := make(map[int]bool)
	for _, k := range soundexKeys(norm) {
		for _, i := range m.soundex[k] {
			allowed[i] = true
		}
	}
	return allowed
}

// MatchAll screens names in order.
func (m *Matcher) MatchAll(ctx context.Context, names []string) []domain.MatchResult {
	out := make([]domain.MatchResult, len(names))
	for i, n := range names {
		out[i] = m.Screen(ctx, n)
	}
	return out
}

// Screen is Match with memoization through the cache, keyed by watchlist
// fingerprint, matcher settings and normalized name. Cache failures fall
// back to computing the result.
func (m *Matcher) Screen(ctx context.Context, name string) domain.MatchResult {
	m.mu.RLock()
	defer m.mu.RUnlock()

	norm := Normalize(name)
	if m.cache == nil || norm == "" {
		return m.match(norm)
	}

	key := m.cacheKey(norm)
	if data, err := m.cache.Get(ctx, key); err == nil && data != nil {
		var res domain.MatchResult
		if err := json.Unmarshal(data, &res); err == nil {
			return res
		}
	}

	res := m.match(norm)
	if data, err := json.Marshal(res); err == nil {
		if err := m.cache.Set(ctx, key, data, m.cfg.CacheTTL); err != nil {
			slog.Debug("watchlist cache set failed", "error", err)
		}
	}
	return res
}

func (m *Matcher) cacheKey(norm string) string {
	sum := sha256.Sum256([]byte(norm))
	return "wl:" + m.list.Fingerprint() + ":" + m.settingsKey + ":" + hex.EncodeToString(sum[:8])
}

func settingsKey(cfg Config) string {
	return fmt.Sprintf("%t-%g-%s-%s", cfg.Enabled, cfg.Threshold, cfg.Mode, cfg.Blocking)
}

// Len returns the number of watchlist entries.
func (m *Matcher) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.list.Len()
}
