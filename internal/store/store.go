// Package store provides the per-job document collection shared by the
// four category analyzers. All writes are serialized through a single
// mutex because analyzers insert concurrently; reads hand out copies so
// callers never observe later mutation.
package store

import (
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/jonathan/company-researcher/internal/types"
)

// trackingParams are query parameters stripped during URL normalization.
// They vary per visitor and would otherwise defeat deduplication.
var trackingParams = map[string]bool{
	"utm_source":   true,
	"utm_medium":   true,
	"utm_campaign": true,
	"utm_term":     true,
	"utm_content":  true,
	"gclid":        true,
	"fbclid":       true,
	"ref":          true,
	"ref_src":      true,
}

// NormalizeURL canonicalizes a document URL: lowercases scheme and host,
// drops fragments and tracking parameters, and strips the trailing slash.
// Returns the input unchanged if it does not parse as an absolute URL.
func NormalizeURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return strings.TrimSpace(raw)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""

	if u.RawQuery != "" {
		q := u.Query()
		for param := range q {
			if trackingParams[strings.ToLower(param)] {
				q.Del(param)
			}
		}
		u.RawQuery = q.Encode()
	}

	u.Path = strings.TrimSuffix(u.Path, "/")
	return u.String()
}

// entry pairs a document with its insertion order for stable snapshots.
type entry struct {
	doc   types.Document
	order int
}

// DocumentStore is the per-job collection of discovered sources, keyed
// by category and normalized URL.
type DocumentStore struct {
	mu      sync.Mutex
	docs    map[types.Category]map[string]*entry
	nextOrd int
}

// NewDocumentStore returns an empty store.
func NewDocumentStore() *DocumentStore {
	return &DocumentStore{
		docs: make(map[types.Category]map[string]*entry),
	}
}

// Add inserts a document discovered by an analyzer. The URL is
// normalized first; if an entry already exists for the same category and
// normalized URL, the higher-scoring one wins and the other is
// discarded. Returns the normalized URL and whether the document was new.
func (s *DocumentStore) Add(doc types.Document) (normalized string, isNew bool) {
	normalized = NormalizeURL(doc.URL)
	doc.URL = normalized

	s.mu.Lock()
	defer s.mu.Unlock()

	byURL, ok := s.docs[doc.Category]
	if !ok {
		byURL = make(map[string]*entry)
		s.docs[doc.Category] = byURL
	}

	existing, ok := byURL[normalized]
	if !ok {
		byURL[normalized] = &entry{doc: doc, order: s.nextOrd}
		s.nextOrd++
		return normalized, true
	}

	// Duplicate insert: keep whichever scored higher. Insertion order of
	// the original is preserved so snapshot ordering stays stable.
	if doc.Score > existing.doc.Score {
		existing.doc = doc
	}
	return normalized, false
}

// Update applies fn to the document identified by category and
// normalized URL, if present. Used by the curator (kept flag) and the
// enricher (content / extraction error).
func (s *DocumentStore) Update(category types.Category, normalizedURL string, fn func(*types.Document)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.docs[category][normalizedURL]
	if !ok {
		return false
	}
	fn(&e.doc)
	return true
}

// Snapshot returns copies of the category's documents ordered by
// descending score, ties broken by insertion order.
func (s *DocumentStore) Snapshot(category types.Category) []types.Document {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := make([]*entry, 0, len(s.docs[category]))
	for _, e := range s.docs[category] {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].doc.Score != entries[j].doc.Score {
			return entries[i].doc.Score > entries[j].doc.Score
		}
		return entries[i].order < entries[j].order
	})

	out := make([]types.Document, len(entries))
	for i, e := range entries {
		out[i] = e.doc
	}
	return out
}

// Kept returns copies of the category's kept documents in snapshot order.
func (s *DocumentStore) Kept(category types.Category) []types.Document {
	all := s.Snapshot(category)
	kept := all[:0:0]
	for _, d := range all {
		if d.Kept {
			kept = append(kept, d)
		}
	}
	return kept
}

// Count returns the number of documents stored for a category.
func (s *DocumentStore) Count(category types.Category) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.docs[category])
}
