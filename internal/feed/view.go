package feed

import (
	"fmt"
	"slices"
	"strings"
)

// VisibilityScope is the audience a post is shared with.
type VisibilityScope string

const (
	VisibilityPrivate VisibilityScope = "private"
	VisibilityGroups  VisibilityScope = "groups"
	VisibilityNetwork VisibilityScope = "network"
	VisibilityPublic  VisibilityScope = "public"
)

// Visibility is passed through to the gateway untouched. The engine only uses
// it to decide which views an optimistic post is inserted into.
type Visibility struct {
	Scope    VisibilityScope `json:"scope"`
	GroupIDs []string        `json:"group_ids,omitempty"`
}

// InGroup reports whether the post is shared with the given circle.
func (v Visibility) InGroup(id string) bool {
	return v.Scope == VisibilityGroups && slices.Contains(v.GroupIDs, id)
}

// ViewKind identifies one of the three presentations of the post collection.
type ViewKind string

const (
	ViewCircle  ViewKind = "circle"
	ViewFollow  ViewKind = "follow"
	ViewUnified ViewKind = "unified"
)

// CacheKeyPrefix prefixes every feed page cache key.
const CacheKeyPrefix = "feed:"

// ViewKey addresses one feed view. CircleID is only meaningful for ViewCircle.
// Filter is the feed parameter requested by the consumer; it is forwarded to
// the gateway and, when it names a post kind, restricts which optimistic posts
// the view accepts.
type ViewKey struct {
	Kind     ViewKind `json:"kind" yaml:"kind"`
	CircleID string   `json:"circle_id,omitempty" yaml:"circle_id,omitempty"`
	Filter   string   `json:"filter,omitempty" yaml:"filter,omitempty"`
}

// Unified returns the key of the unfiltered unified view.
func Unified() ViewKey { return ViewKey{Kind: ViewUnified} }

// Follow returns the key of the unfiltered follow view.
func Follow() ViewKey { return ViewKey{Kind: ViewFollow} }

// Circle returns the key of the unfiltered view of one circle.
func Circle(id string) ViewKey { return ViewKey{Kind: ViewCircle, CircleID: id} }

func (k ViewKey) String() string { return k.CacheKey() }

// WithFilter returns a copy of the key with the feed parameter set.
func (k ViewKey) WithFilter(f string) ViewKey {
	k.Filter = f
	return k
}

// CacheKey renders the key as "feed:<kind>[:<circle>][:<filter>]".
func (k ViewKey) CacheKey() string {
	var b strings.Builder
	b.WriteString(CacheKeyPrefix)
	b.WriteString(string(k.Kind))
	if k.Kind == ViewCircle {
		b.WriteString(":")
		b.WriteString(k.CircleID)
	}
	if k.Filter != "" {
		b.WriteString(":")
		b.WriteString(k.Filter)
	}
	return b.String()
}

// ParseViewKey is the inverse of CacheKey. The "feed:" prefix is optional:
// "unified", "follow:photo" and "feed:circle:c1" all parse.
func ParseViewKey(s string) (ViewKey, error) {
	parts := strings.Split(strings.TrimPrefix(s, CacheKeyPrefix), ":")
	k := ViewKey{Kind: ViewKind(parts[0])}
	rest := parts[1:]
	if k.Kind == ViewCircle && len(rest) > 0 {
		k.CircleID, rest = rest[0], rest[1:]
	}
	switch len(rest) {
	case 0:
	case 1:
		k.Filter = rest[0]
	default:
		return ViewKey{}, fmt.Errorf("malformed view key %q", s)
	}
	if err := k.Validate(); err != nil {
		return ViewKey{}, fmt.Errorf("view key %q: %w", s, err)
	}
	return k, nil
}

// Validate checks that the key names a known view.
func (k ViewKey) Validate() error {
	switch k.Kind {
	case ViewUnified, ViewFollow:
		if k.CircleID != "" {
			return fmt.Errorf("view %s does not take a circle id", k.Kind)
		}
		return nil
	case ViewCircle:
		if k.CircleID == "" {
			return fmt.Errorf("circle view requires a circle id")
		}
		return nil
	default:
		return fmt.Errorf("unknown view kind %q", k.Kind)
	}
}

// Accepts reports whether a locally inserted post belongs at the head of the
// view. Remote pages are authoritative about membership; this only routes
// optimistic inserts and newly visible aggregates.
func (k ViewKey) Accepts(p *Post) bool {
	if k.Filter != "" && isKindFilter(k.Filter) && Kind(k.Filter) != p.Kind() {
		return false
	}
	switch k.Kind {
	case ViewUnified:
		return true
	case ViewFollow:
		return p.Visibility.Scope == VisibilityNetwork || p.Visibility.Scope == VisibilityPublic
	case ViewCircle:
		return p.Visibility.InGroup(k.CircleID)
	}
	return false
}

func isKindFilter(f string) bool {
	return slices.Contains(ValidKinds, Kind(f))
}
