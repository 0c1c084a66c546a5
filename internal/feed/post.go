package feed

import (
	"strings"
	"time"
)

// TempIDPrefix marks locally generated post and comment ids.
const TempIDPrefix = "tmp-"

// IsTemporaryID reports whether id was generated locally and has not been
// replaced by a server-assigned id yet.
func IsTemporaryID(id string) bool {
	return strings.HasPrefix(id, TempIDPrefix)
}

// Author identifies who wrote a post or comment.
type Author struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`

	// IsViewer is set when the author is the signed-in user. DisplayName and
	// AvatarURL are then the viewer's sentinel identity, not the remote values.
	IsViewer bool `json:"is_viewer,omitempty"`
}

// MediaType is the typed slot a media reference occupies.
type MediaType string

const (
	MediaPhoto MediaType = "photo"
	MediaAudio MediaType = "audio"
)

// MediaRef points at an uploaded media object.
type MediaRef struct {
	Type MediaType `json:"type"`
	URL  string    `json:"url"`
}

// Comment is a reply attached to an existing post.
type Comment struct {
	ID          string    `json:"id"`
	PostID      string    `json:"post_id"`
	Author      Author    `json:"author"`
	Content     string    `json:"content"`
	CreatedAt   time.Time `json:"created_at"`
	DisplayTime string    `json:"display_time,omitempty"`
}

// Post is the canonical representation of a feed entry.
//
// Counts are never negative; ViewerReacted and ViewerLiked record the single
// active reaction/like the viewer may hold on the post.
type Post struct {
	ID          string     `json:"id"`
	Author      Author     `json:"author"`
	Visibility  Visibility `json:"visibility"`
	Content     string     `json:"content"`
	CreatedAt   time.Time  `json:"created_at"`
	DisplayTime string     `json:"display_time,omitempty"`
	Media       []MediaRef `json:"media,omitempty"`

	ReactionCount  int    `json:"reaction_count"`
	ViewerReacted  bool   `json:"viewer_reacted"`
	ViewerReaction string `json:"viewer_reaction,omitempty"`

	LikeCount   int  `json:"like_count"`
	ViewerLiked bool `json:"viewer_liked"`

	CommentCount int       `json:"comment_count"`
	Comments     []Comment `json:"comments,omitempty"`

	Payload Payload `json:"-"`
}

// Kind returns the post kind, derived from its payload.
// A post without a payload is a plain status update.
func (p *Post) Kind() Kind {
	if p.Payload == nil {
		return KindStatus
	}
	return p.Payload.Kind()
}

// IsTemporary reports whether the post has not been committed yet.
func (p *Post) IsTemporary() bool {
	return IsTemporaryID(p.ID)
}

// HasMedia reports whether the post carries at least one media reference.
func (p *Post) HasMedia() bool {
	for _, m := range p.Media {
		if m.URL != "" {
			return true
		}
	}
	return false
}

// Aggregate returns the aggregate payload, or nil for other kinds.
func (p *Post) Aggregate() *AggregatePayload {
	if agg, ok := p.Payload.(*AggregatePayload); ok {
		return agg
	}
	return nil
}

// Clone returns a deep copy. Snapshots taken before an optimistic mutation
// must not share slices or payloads with the live post.
func (p *Post) Clone() *Post {
	if p == nil {
		return nil
	}
	c := *p
	if p.Media != nil {
		c.Media = append([]MediaRef(nil), p.Media...)
	}
	if p.Comments != nil {
		c.Comments = append([]Comment(nil), p.Comments...)
	}
	if p.Visibility.GroupIDs != nil {
		c.Visibility.GroupIDs = append([]string(nil), p.Visibility.GroupIDs...)
	}
	if p.Payload != nil {
		c.Payload = p.Payload.clone()
	}
	return &c
}

// ClampCounts forces every counter to be non-negative.
func (p *Post) ClampCounts() {
	if p.ReactionCount < 0 {
		p.ReactionCount = 0
	}
	if p.LikeCount < 0 {
		p.LikeCount = 0
	}
	if p.CommentCount < 0 {
		p.CommentCount = 0
	}
}
