package normalize

import (
	"strings"

	"github.com/roach88/habitfeed/internal/feed"
)

var kindSynonyms = map[string]feed.Kind{
	"check_in":          feed.KindCheckIn,
	"checkin":           feed.KindCheckIn,
	"check-in":          feed.KindCheckIn,
	"habit_checkin":     feed.KindCheckIn,
	"status":            feed.KindStatus,
	"text":              feed.KindStatus,
	"post":              feed.KindStatus,
	"photo":             feed.KindPhoto,
	"image":             feed.KindPhoto,
	"picture":           feed.KindPhoto,
	"audio":             feed.KindAudio,
	"voice":             feed.KindAudio,
	"voice_note":        feed.KindAudio,
	"goal_announcement": feed.KindGoal,
	"goal":              feed.KindGoal,
	"new_goal":          feed.KindGoal,
	"challenge_join":    feed.KindGoal,
	"celebration":       feed.KindCelebration,
	"milestone":         feed.KindCelebration,
	"achievement":       feed.KindCelebration,
	"daily_aggregate":   feed.KindDailyAggregate,
	"daily_summary":     feed.KindDailyAggregate,
	"daily_progress":    feed.KindDailyAggregate,
}

// resolveKind maps a declared kind, including legacy spellings, onto a
// feed.Kind. Anything unrecognized is a status post.
func resolveKind(declared string) feed.Kind {
	if k, ok := kindSynonyms[strings.ToLower(strings.TrimSpace(declared))]; ok {
		return k
	}
	return feed.KindStatus
}

var scopeSynonyms = map[string]feed.VisibilityScope{
	"private":   feed.VisibilityPrivate,
	"only_me":   feed.VisibilityPrivate,
	"self":      feed.VisibilityPrivate,
	"groups":    feed.VisibilityGroups,
	"group":     feed.VisibilityGroups,
	"circle":    feed.VisibilityGroups,
	"circles":   feed.VisibilityGroups,
	"network":   feed.VisibilityNetwork,
	"followers": feed.VisibilityNetwork,
	"friends":   feed.VisibilityNetwork,
	"public":    feed.VisibilityPublic,
	"everyone":  feed.VisibilityPublic,
	"discover":  feed.VisibilityPublic,
}

func resolveVisibility(rec map[string]any) feed.Visibility {
	v := feed.Visibility{Scope: feed.VisibilityNetwork}
	if s, ok := scopeSynonyms[strings.ToLower(firstString(rec, "visibility", "audience", "privacy"))]; ok {
		v.Scope = s
	}
	v.GroupIDs = stringList(rec, "circle_ids", "group_ids", "circle_id", "group_id")
	if len(v.GroupIDs) > 0 && v.Scope == feed.VisibilityNetwork && firstString(rec, "visibility", "audience", "privacy") == "" {
		v.Scope = feed.VisibilityGroups
	}
	if v.Scope != feed.VisibilityGroups {
		v.GroupIDs = nil
	}
	return v
}

var (
	photoKeys = []string{"photo_url", "image_url", "media_url", "image"}
	audioKeys = []string{"audio_url", "voice_url", "media_url"}
)

// payload builds the kind-specific payload and resolves legacy media fields
// onto the typed slot for the declared kind.
func (n *Normalizer) payload(kind feed.Kind, rec map[string]any, authorID string) (feed.Payload, []feed.MediaRef) {
	var media []feed.MediaRef
	attachPhoto := func() string {
		url := firstString(rec, photoKeys...)
		if url != "" {
			media = append(media, feed.MediaRef{Type: feed.MediaPhoto, URL: url})
		}
		return url
	}

	switch kind {
	case feed.KindPhoto:
		return &feed.PhotoPayload{PhotoURL: attachPhoto()}, media

	case feed.KindAudio:
		url := firstString(rec, audioKeys...)
		if url != "" {
			media = append(media, feed.MediaRef{Type: feed.MediaAudio, URL: url})
		}
		return &feed.AudioPayload{
			AudioURL:        url,
			DurationSeconds: intOr(rec, 0, "duration_seconds", "audio_duration", "duration"),
		}, media

	case feed.KindCheckIn:
		attachPhoto()
		p := &feed.CheckInPayload{
			ChallengeID: firstString(rec, "challenge_id"),
			ActionTitle: firstString(rec, "action_title", "habit_title", "title"),
			Streak:      intOr(rec, 0, "streak", "streak_count"),
		}
		var prog feed.ChallengeProgress
		if decodeSub(rec, &prog, "challenge_progress", "progress") && prog.TotalDays > 0 {
			p.Progress = &prog
		}
		return p, media

	case feed.KindGoal:
		attachPhoto()
		return &feed.GoalPayload{
			ChallengeID: firstString(rec, "challenge_id"),
			GoalTitle:   firstString(rec, "goal_title", "challenge_title", "title"),
			TargetDays:  intOr(rec, 0, "target_days", "duration_days"),
		}, media

	case feed.KindCelebration:
		attachPhoto()
		p := &feed.CelebrationPayload{
			ChallengeID: firstString(rec, "challenge_id"),
			Streak:      intOr(rec, 0, "streak", "streak_count"),
		}
		var meta struct {
			Milestone string `json:"milestone"`
			Badge     string `json:"badge"`
			Streak    int    `json:"streak"`
		}
		if decodeSub(rec, &meta, "celebration_metadata", "metadata") {
			p.Milestone = meta.Milestone
			p.Badge = meta.Badge
			if p.Streak == 0 {
				p.Streak = meta.Streak
			}
		}
		return p, media

	case feed.KindDailyAggregate:
		attachPhoto()
		return n.aggregatePayload(rec, authorID), media

	default:
		attachPhoto()
		return &feed.StatusPayload{}, media
	}
}

func (n *Normalizer) aggregatePayload(rec map[string]any, authorID string) *feed.AggregatePayload {
	p := &feed.AggregatePayload{
		UserID:      authorID,
		DayKey:      firstString(rec, "day_key", "date", "day"),
		ChallengeID: firstString(rec, "challenge_id"),
	}

	list, decoded := firstList(rec, "completed_actions", "actions", "entries")
	seen := make(map[string]int)
	for _, raw := range list {
		m := asMap(raw)
		if m == nil {
			continue
		}
		e := feed.CompletedActionEntry{
			ActionID:    firstString(m, "action_id", "habit_id", "id"),
			Title:       firstString(m, "title", "name", "action_title"),
			Goal:        firstString(m, "goal", "target"),
			CompletedAt: firstTime(m, "completed_at", "time", "timestamp"),
			Streak:      intOr(m, 0, "streak", "streak_count"),
			Success:     true,
		}
		if e.ActionID == "" {
			continue
		}
		if _, ok := m["success"]; ok {
			e.Success = firstBool(m, "success")
		} else if status := strings.ToLower(firstString(m, "status")); status == "failed" || status == "missed" {
			e.Success = false
		}
		// Later duplicates replace earlier ones; the backend appends re-completions.
		if i, ok := seen[e.ActionID]; ok {
			p.Entries[i] = e
			continue
		}
		seen[e.ActionID] = len(p.Entries)
		p.Entries = append(p.Entries, e)
	}

	if decoded {
		for _, e := range p.Entries {
			if e.Success {
				p.CompletedCount++
			}
		}
	} else {
		p.CompletedCount = max(0, intOr(rec, 0, "completed_count", "completed"))
	}
	p.ExpectedTotal = max(intOr(rec, 0, "total_actions", "expected_total", "total"), len(p.Entries), p.CompletedCount)
	return p
}
