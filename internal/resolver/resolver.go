// Package resolver turns raw user references — YouTube URLs or free-text
// search queries — into canonical [SourceRef] values the asset cache and
// acquisition pipeline work with.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

// youtubeURLRe matches the recognised YouTube URL shapes (youtu.be short
// links plus youtube.com embed/v/watch forms) and captures the 11-character
// video token.
var youtubeURLRe = regexp.MustCompile(
	`^(?:https?://)?(?:www\.)?(?:youtu\.be/|youtube\.com/(?:embed/|v/|watch\?v=|watch\?.+&v=))([\w-]{11})(?:\S+)?$`,
)

// Sentinel errors reported for bad user input. Anything else returned by
// [ResolveQuery] is an upstream search failure.
var (
	ErrInvalidReference = errors.New("resolver: not a recognised YouTube reference")
	ErrNoResults        = errors.New("resolver: no results found")
)

// Origin records how a [SourceRef] was produced.
type Origin int

const (
	// OriginURL means the token was extracted from a direct media URL.
	OriginURL Origin = iota

	// OriginSearch means the token came from a search collaborator result.
	OriginSearch
)

// String returns the human-readable name of the origin.
func (o Origin) String() string {
	switch o {
	case OriginURL:
		return "url"
	case OriginSearch:
		return "search"
	default:
		return "unknown"
	}
}

// SourceRef is the canonical identifier for one piece of remote media.
// Immutable once resolved.
type SourceRef struct {
	// ID is the stable 11-character video token.
	ID string

	// Origin records whether the reference came from a URL or a search.
	Origin Origin
}

// WatchURL returns the canonical watch URL for the referenced media, used as
// the fetch target by the acquisition pipeline.
func (r SourceRef) WatchURL() string {
	return "https://www.youtube.com/watch?v=" + r.ID
}

// SearchResult is one hit returned by a [Searcher].
type SearchResult struct {
	// VideoID is the media token, empty when the hit carries no usable one.
	VideoID string

	// Title is the human-readable result title.
	Title string

	// Channel is the uploader name.
	Channel string
}

// Searcher is the external search collaborator consulted for free-text
// queries. Implementations must be safe for concurrent use.
type Searcher interface {
	// Search returns video results for the query, best match first.
	Search(ctx context.Context, query string) ([]SearchResult, error)
}

// Resolve extracts the canonical source token from a direct YouTube URL.
// It is a pure mapping: no network access, never panics, and fails with
// [ErrInvalidReference] for anything that does not match a recognised shape.
func Resolve(raw string) (SourceRef, error) {
	m := youtubeURLRe.FindStringSubmatch(raw)
	if m == nil {
		return SourceRef{}, fmt.Errorf("%w: %q", ErrInvalidReference, raw)
	}
	return SourceRef{ID: m[1], Origin: OriginURL}, nil
}

// ResolveQuery asks the search collaborator for the top video matching the
// free-text query. Zero results, or a best result without a usable token,
// fail with [ErrNoResults]; collaborator failures are returned wrapped.
func ResolveQuery(ctx context.Context, s Searcher, query string) (SourceRef, error) {
	results, err := s.Search(ctx, query)
	if err != nil {
		return SourceRef{}, fmt.Errorf("resolver: search %q: %w", query, err)
	}
	if len(results) == 0 || results[0].VideoID == "" {
		return SourceRef{}, fmt.Errorf("%w: %q", ErrNoResults, query)
	}
	return SourceRef{ID: results[0].VideoID, Origin: OriginSearch}, nil
}
