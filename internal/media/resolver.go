// Package media resolves informal client-supplied filenames to storage keys.
//
// Records created through this service persist their exact storage key, so
// the first candidate hits immediately. The probing below is a degraded
// fallback for legacy names that omit the storage prefix or the timestamp
// suffix the store actually used. It is a linear, best-effort heuristic
// match, not a lookup: objects outside the time window or with
// non-conforming names will not be found.
package media

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"promptvault/pkg/storage"
)

const (
	// DefaultPrefix is where generated media objects live in the bucket.
	DefaultPrefix = "generated/"

	fingerprintLen       = 8
	defaultWindow        = 2 * time.Hour
	defaultMaxCandidates = 10000
	defaultListLimit     = 100
	defaultExt           = ".png"
)

// Resolver derives candidate storage keys for a partial filename and probes
// the object store until one exists.
type Resolver struct {
	objects       storage.ObjectStore
	prefix        string
	window        time.Duration
	maxCandidates int
	listLimit     int

	now func() time.Time
}

// NewResolver builds a resolver with the default prefix and bounds.
func NewResolver(objects storage.ObjectStore) *Resolver {
	return &Resolver{
		objects:       objects,
		prefix:        DefaultPrefix,
		window:        defaultWindow,
		maxCandidates: defaultMaxCandidates,
		listLimit:     defaultListLimit,
		now:           time.Now,
	}
}

// NotFoundError reports a failed resolution, carrying the attempted top
// candidates and any substring matches for diagnostics.
type NotFoundError struct {
	Name             string
	Attempted        int
	TopCandidates    []string
	SubstringMatches []string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("media %q not found after %d candidates", e.Name, e.Attempted)
}

// Resolve returns the storage key for an informal filename. Probes run in
// candidate order; the first existing key wins. When no candidate exists, a
// bounded listing under the prefix is substring-matched as a last resort.
func (r *Resolver) Resolve(ctx context.Context, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", &NotFoundError{Name: name}
	}
	candidates, fingerprint := r.candidates(name, r.now().UTC())

	for i, key := range candidates {
		exists, err := r.objects.Stat(ctx, key)
		if err != nil {
			return "", fmt.Errorf("probe %s: %w", key, err)
		}
		if exists {
			if i > 0 {
				slog.Warn("media key resolved heuristically",
					"name", name, "key", key, "probes", i+1)
			}
			return key, nil
		}
	}

	// An empty fingerprint would substring-match every key; degenerate names
	// terminate here instead of resolving to an arbitrary object.
	if fingerprint == "" {
		return "", &NotFoundError{Name: name, Attempted: len(candidates), TopCandidates: candidates}
	}

	keys, err := r.objects.List(ctx, r.prefix, r.listLimit)
	if err != nil {
		return "", fmt.Errorf("list %s: %w", r.prefix, err)
	}
	matches := make([]string, 0)
	for _, key := range keys {
		if strings.Contains(key, fingerprint) {
			matches = append(matches, key)
		}
	}
	if len(matches) > 0 {
		slog.Warn("media key matched by substring fallback",
			"name", name, "key", matches[0], "matches", len(matches))
		return matches[0], nil
	}

	top := candidates
	if len(top) > 5 {
		top = top[:5]
	}
	return "", &NotFoundError{
		Name:             name,
		Attempted:        len(candidates),
		TopCandidates:    top,
		SubstringMatches: matches,
	}
}

// candidates builds the ordered, deduplicated probe list: the exact
// normalized name first, then fingerprint names without a timestamp, then
// fingerprint names for each second in the look-back window, capped.
func (r *Resolver) candidates(name string, now time.Time) ([]string, string) {
	normalized := name
	if !strings.HasPrefix(normalized, r.prefix) {
		normalized = r.prefix + normalized
	}
	base := strings.TrimPrefix(normalized, r.prefix)
	ext := path.Ext(base)
	if ext == "" {
		ext = defaultExt
	}
	stem := strings.TrimSuffix(base, path.Ext(base))
	fingerprint := deriveFingerprint(stem)

	seen := make(map[string]struct{}, r.maxCandidates)
	out := make([]string, 0, 64)
	add := func(key string) bool {
		if _, dup := seen[key]; dup {
			return len(out) < r.maxCandidates
		}
		seen[key] = struct{}{}
		out = append(out, key)
		return len(out) < r.maxCandidates
	}

	add(normalized)
	if fingerprint == "" {
		return out, ""
	}
	add(fmt.Sprintf("%simg_%s%s", r.prefix, fingerprint, ext))

	seconds := int(r.window / time.Second)
	for i := 0; i <= seconds; i++ {
		ts := now.Add(-time.Duration(i) * time.Second).Unix()
		if !add(fmt.Sprintf("%simg_%s_%d%s", r.prefix, fingerprint, ts, ext)) {
			break
		}
	}
	return out, fingerprint
}

// deriveFingerprint extracts the short matching segment from a filename stem.
// Names following the "kind_fingerprint_timestamp" convention contribute
// their middle segment; anything else contributes its leading characters.
func deriveFingerprint(stem string) string {
	fp := stem
	if parts := strings.Split(stem, "_"); len(parts) >= 3 && parts[1] != "" {
		fp = parts[1]
	}
	if len(fp) > fingerprintLen {
		fp = fp[:fingerprintLen]
	}
	return fp
}
