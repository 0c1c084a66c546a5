// Package normalize converts raw remote records into canonical feed entities.
//
// Normalization is side-effect free: given the same record, viewer and clock
// it always yields the same Post. Missing fields degrade to placeholders.
// Malformed embedded payloads degrade to "no metadata". A record is only
// rejected (ErrMalformedRecord) when nothing displayable can be recovered
// from it; NormalizePage drops such records silently.
//
// This is the only place that knows about legacy field names and kind
// synonyms. Everything downstream works with the typed payloads in package
// feed.
package normalize

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/habitfeed/internal/feed"
	"github.com/roach88/habitfeed/internal/gateway"
)

// ErrMalformedRecord is returned for records with nothing displayable.
var ErrMalformedRecord = errors.New("malformed remote record")

// ViewerDisplayName replaces the author name on the viewer's own posts.
const ViewerDisplayName = "You"

// UnknownAuthor stands in for a missing author name.
const UnknownAuthor = "Unknown"

// Viewer is the locally known identity of the signed-in user.
type Viewer struct {
	UserID    string
	AvatarURL string
}

// Normalizer turns gateway records into feed posts and comments.
type Normalizer struct {
	viewer Viewer
	now    func() time.Time
	accept ContentPredicate
	logger *slog.Logger
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithClock sets the reference time for relative-time bucketing.
func WithClock(now func() time.Time) Option {
	return func(n *Normalizer) { n.now = now }
}

// WithContentPredicate replaces LooksLikeText as the content sanity check.
func WithContentPredicate(p ContentPredicate) Option {
	return func(n *Normalizer) { n.accept = p }
}

// WithLogger sets the logger used to report dropped records.
func WithLogger(l *slog.Logger) Option {
	return func(n *Normalizer) { n.logger = l }
}

// New creates a Normalizer for the given viewer.
func New(viewer Viewer, opts ...Option) *Normalizer {
	n := &Normalizer{
		viewer: viewer,
		now:    time.Now,
		accept: LooksLikeText,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Viewer returns the identity posts are normalized for.
func (n *Normalizer) Viewer() Viewer {
	return n.viewer
}

// Normalize converts one post record.
func (n *Normalizer) Normalize(rec gateway.Record) (feed.Post, error) {
	id := firstString(rec, "id", "post_id", "uuid")
	if id == "" {
		return feed.Post{}, fmt.Errorf("%w: missing id", ErrMalformedRecord)
	}

	kind := resolveKind(firstString(rec, "type", "kind", "post_type"))
	p := feed.Post{
		ID:         id,
		Author:     n.author(rec),
		Visibility: resolveVisibility(rec),
		CreatedAt:  firstTime(rec, "created_at", "createdAt", "timestamp", "inserted_at"),
	}
	p.DisplayTime = RelativeTime(n.now(), p.CreatedAt)

	content := firstString(rec, "content", "text", "body", "caption", "message")
	if content != "" && !n.accept(content) {
		content = ""
	}
	p.Content = norm.NFC.String(content)

	p.ReactionCount = intOr(rec, 0, "reaction_count", "reactions_count", "reactions")
	p.ViewerReacted = firstBool(rec, "has_reacted", "user_has_reacted", "viewer_reacted")
	if p.ViewerReacted {
		p.ViewerReaction = firstString(rec, "viewer_reaction", "my_reaction", "reaction_emoji")
	}
	p.LikeCount = intOr(rec, 0, "like_count", "likes_count", "likes")
	p.ViewerLiked = firstBool(rec, "has_liked", "is_liked", "liked_by_me", "viewer_liked")
	p.CommentCount = intOr(rec, 0, "comment_count", "comments_count")

	if list, ok := firstList(rec, "recent_comments", "comments", "comment_preview"); ok {
		for _, raw := range list {
			c, err := n.NormalizeComment(asMap(raw))
			if err != nil {
				continue
			}
			if c.PostID == "" {
				c.PostID = id
			}
			p.Comments = append(p.Comments, c)
		}
	}
	p.CommentCount = max(p.CommentCount, len(p.Comments))

	// A viewer-flagged toggle implies at least one.
	if p.ViewerReacted {
		p.ReactionCount = max(p.ReactionCount, 1)
	}
	if p.ViewerLiked {
		p.LikeCount = max(p.LikeCount, 1)
	}
	p.ClampCounts()

	p.Payload, p.Media = n.payload(kind, rec, p.Author.ID)

	if !displayable(&p) {
		return feed.Post{}, fmt.Errorf("%w: post %s has no displayable content", ErrMalformedRecord, id)
	}
	return p, nil
}

// NormalizePage converts a page of records, dropping malformed records and
// aggregates that must not surface.
func (n *Normalizer) NormalizePage(recs []gateway.Record) []feed.Post {
	posts := make([]feed.Post, 0, len(recs))
	for _, rec := range recs {
		p, err := n.Normalize(rec)
		if err != nil {
			n.logger.Debug("dropping remote record", "error", err)
			continue
		}
		if !Visible(&p) {
			n.logger.Debug("dropping empty aggregate", "id", p.ID)
			continue
		}
		posts = append(posts, p)
	}
	return posts
}

// NormalizeComment converts one comment record.
func (n *Normalizer) NormalizeComment(rec map[string]any) (feed.Comment, error) {
	if rec == nil {
		return feed.Comment{}, fmt.Errorf("%w: comment is not an object", ErrMalformedRecord)
	}
	id := firstString(rec, "id", "comment_id")
	if id == "" {
		return feed.Comment{}, fmt.Errorf("%w: comment missing id", ErrMalformedRecord)
	}
	content := firstString(rec, "content", "text", "body")
	if !n.accept(content) {
		return feed.Comment{}, fmt.Errorf("%w: comment %s content rejected", ErrMalformedRecord, id)
	}
	c := feed.Comment{
		ID:        id,
		PostID:    firstString(rec, "post_id", "parent_id"),
		Author:    n.author(rec),
		Content:   norm.NFC.String(content),
		CreatedAt: firstTime(rec, "created_at", "createdAt", "timestamp"),
	}
	c.DisplayTime = RelativeTime(n.now(), c.CreatedAt)
	return c, nil
}

// Retime recomputes display times against the current clock, for posts that
// were normalized earlier and served from a cache.
func (n *Normalizer) Retime(p *feed.Post) {
	now := n.now()
	p.DisplayTime = RelativeTime(now, p.CreatedAt)
	for i := range p.Comments {
		p.Comments[i].DisplayTime = RelativeTime(now, p.Comments[i].CreatedAt)
	}
}

// Visible reports whether a post may appear in a feed view. An aggregate with
// zero completions, no media and no text never surfaces; it is usually a
// stale or partially written remote record.
func Visible(p *feed.Post) bool {
	agg := p.Aggregate()
	if agg == nil {
		return true
	}
	return agg.CompletedCount > 0 || p.HasMedia() || strings.TrimSpace(p.Content) != ""
}

func (n *Normalizer) author(rec map[string]any) feed.Author {
	nested := firstMap(rec, "author", "user", "profile")
	a := feed.Author{
		ID:          firstString(rec, "user_id", "author_id"),
		DisplayName: firstString(rec, "author_name", "display_name", "username"),
		AvatarURL:   firstString(rec, "author_avatar", "avatar_url"),
	}
	if nested != nil {
		if a.ID == "" {
			a.ID = firstString(nested, "id", "user_id")
		}
		if a.DisplayName == "" {
			a.DisplayName = firstString(nested, "display_name", "name", "username")
		}
		if a.AvatarURL == "" {
			a.AvatarURL = firstString(nested, "avatar_url", "avatar")
		}
	}
	if a.DisplayName == "" {
		a.DisplayName = UnknownAuthor
	}
	a.DisplayName = norm.NFC.String(a.DisplayName)

	if n.viewer.UserID != "" && a.ID == n.viewer.UserID {
		a.DisplayName = ViewerDisplayName
		a.AvatarURL = n.viewer.AvatarURL
		a.IsViewer = true
	}
	return a
}

// displayable reports whether anything of the post can be rendered.
func displayable(p *feed.Post) bool {
	if p.Content != "" || p.HasMedia() {
		return true
	}
	return p.Kind() != feed.KindStatus
}
