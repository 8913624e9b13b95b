package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"promptvault/pkg/storage"
)

func putObject(t *testing.T, store *storage.MemoryObjectStore, key string) {
	t.Helper()
	data := []byte("png-bytes")
	if err := store.Put(context.Background(), key, bytes.NewReader(data), int64(len(data)), "image/png"); err != nil {
		t.Fatalf("put %s: %v", key, err)
	}
}

func newTestResolver(store *storage.MemoryObjectStore, now time.Time) *Resolver {
	r := NewResolver(store)
	r.now = func() time.Time { return now }
	return r
}

func TestResolveExactKeyNeedsSingleProbe(t *testing.T) {
	store := storage.NewMemoryObjectStore("http://objects.local")
	putObject(t, store, "generated/img_abcd1234_1700000000.png")

	r := newTestResolver(store, time.Unix(1700000100, 0))
	key, err := r.Resolve(context.Background(), "generated/img_abcd1234_1700000000.png")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if key != "generated/img_abcd1234_1700000000.png" {
		t.Fatalf("key = %q", key)
	}
	if got := store.StatCalls(); got != 1 {
		t.Fatalf("stat calls = %d, want 1 (exact hit must not fall back)", got)
	}
}

func TestResolveAddsMissingPrefix(t *testing.T) {
	store := storage.NewMemoryObjectStore("http://objects.local")
	putObject(t, store, "generated/img_abcd1234_1700000000.png")

	r := newTestResolver(store, time.Unix(1700000100, 0))
	key, err := r.Resolve(context.Background(), "img_abcd1234_1700000000.png")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if key != "generated/img_abcd1234_1700000000.png" {
		t.Fatalf("key = %q", key)
	}
}

func TestResolveFindsTimestampedVariantInWindow(t *testing.T) {
	store := storage.NewMemoryObjectStore("http://objects.local")
	now := time.Unix(1700003600, 0)
	// Stored an hour ago, well inside the 2h look-back window.
	stored := fmt.Sprintf("generated/img_abcd1234_%d.png", now.Add(-time.Hour).Unix())
	putObject(t, store, stored)

	r := newTestResolver(store, now)
	key, err := r.Resolve(context.Background(), "img_abcd1234_9999.png")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if key != stored {
		t.Fatalf("key = %q, want %q", key, stored)
	}
}

func TestResolveSubstringFallback(t *testing.T) {
	store := storage.NewMemoryObjectStore("http://objects.local")
	// Non-conforming stored name: no img_ kind, no parseable timestamp.
	putObject(t, store, "generated/render-abcd1234-final.png")

	r := newTestResolver(store, time.Unix(1700000000, 0))
	r.window = 10 * time.Second // keep the probe loop short for the test
	key, err := r.Resolve(context.Background(), "abcd1234.png")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if key != "generated/render-abcd1234-final.png" {
		t.Fatalf("key = %q", key)
	}
}

func TestResolveEmptyStemDoesNotMatchArbitraryObjects(t *testing.T) {
	store := storage.NewMemoryObjectStore("http://objects.local")
	putObject(t, store, "generated/secret-report.png")

	r := newTestResolver(store, time.Unix(1700000000, 0))
	for _, name := range []string{".png", "generated/", "generated/.png"} {
		_, err := r.Resolve(context.Background(), name)
		var notFound *NotFoundError
		if !errors.As(err, &notFound) {
			t.Fatalf("Resolve(%q) = %v, want NotFoundError", name, err)
		}
		if len(notFound.SubstringMatches) != 0 {
			t.Fatalf("Resolve(%q) substring matches = %v, want none", name, notFound.SubstringMatches)
		}
	}
}

func TestResolveMissReturnsBoundedDiagnostics(t *testing.T) {
	store := storage.NewMemoryObjectStore("http://objects.local")
	putObject(t, store, "generated/unrelated.png")

	r := newTestResolver(store, time.Unix(1700000000, 0))
	r.maxCandidates = 50
	_, err := r.Resolve(context.Background(), "nomatch99.png")
	var notFound *NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
	if notFound.Attempted == 0 || notFound.Attempted > 50 {
		t.Fatalf("attempted = %d, want bounded by cap 50", notFound.Attempted)
	}
	if len(notFound.TopCandidates) == 0 {
		t.Fatalf("expected top candidates in diagnostics")
	}
	if got := store.StatCalls(); got > 50 {
		t.Fatalf("stat calls = %d, exceeded candidate cap", got)
	}
}

func TestDeriveFingerprint(t *testing.T) {
	tests := []struct {
		stem string
		want string
	}{
		{"img_abcd1234_1700000000", "abcd1234"},
		{"img_fp_extra_bits", "fp"},
		{"plainname", "plainnam"},
		{"ab", "ab"},
	}
	for _, tc := range tests {
		if got := deriveFingerprint(tc.stem); got != tc.want {
			t.Fatalf("deriveFingerprint(%q) = %q, want %q", tc.stem, got, tc.want)
		}
	}
}
