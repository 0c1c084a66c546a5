package feed

import "time"

// Kind enumerates the post kinds.
type Kind string

const (
	KindCheckIn        Kind = "check_in"
	KindStatus         Kind = "status"
	KindPhoto          Kind = "photo"
	KindAudio          Kind = "audio"
	KindGoal           Kind = "goal_announcement"
	KindCelebration    Kind = "celebration"
	KindDailyAggregate Kind = "daily_aggregate"
)

// ValidKinds lists every kind in declaration order.
var ValidKinds = []Kind{
	KindCheckIn,
	KindStatus,
	KindPhoto,
	KindAudio,
	KindGoal,
	KindCelebration,
	KindDailyAggregate,
}

// Payload is the kind-specific part of a post. The set of implementations is
// closed: only the payload types in this package satisfy it.
type Payload interface {
	Kind() Kind
	clone() Payload
}

// ChallengeProgress is decoded from the challenge_progress sub-payload.
type ChallengeProgress struct {
	Day       int `json:"day"`
	TotalDays int `json:"total_days"`
	Percent   int `json:"percent"`
}

type CheckInPayload struct {
	ChallengeID string             `json:"challenge_id,omitempty"`
	ActionTitle string             `json:"action_title,omitempty"`
	Streak      int                `json:"streak,omitempty"`
	Progress    *ChallengeProgress `json:"progress,omitempty"`
}

func (*CheckInPayload) Kind() Kind { return KindCheckIn }

func (p *CheckInPayload) clone() Payload {
	c := *p
	if p.Progress != nil {
		prog := *p.Progress
		c.Progress = &prog
	}
	return &c
}

type StatusPayload struct{}

func (*StatusPayload) Kind() Kind { return KindStatus }

func (p *StatusPayload) clone() Payload { return &StatusPayload{} }

type PhotoPayload struct {
	PhotoURL string `json:"photo_url,omitempty"`
}

func (*PhotoPayload) Kind() Kind { return KindPhoto }

func (p *PhotoPayload) clone() Payload { c := *p; return &c }

type AudioPayload struct {
	AudioURL        string `json:"audio_url,omitempty"`
	DurationSeconds int    `json:"duration_seconds,omitempty"`
}

func (*AudioPayload) Kind() Kind { return KindAudio }

func (p *AudioPayload) clone() Payload { c := *p; return &c }

type GoalPayload struct {
	ChallengeID string `json:"challenge_id,omitempty"`
	GoalTitle   string `json:"goal_title,omitempty"`
	TargetDays  int    `json:"target_days,omitempty"`
}

func (*GoalPayload) Kind() Kind { return KindGoal }

func (p *GoalPayload) clone() Payload { c := *p; return &c }

// CelebrationPayload carries milestone metadata. Milestone and Badge are empty
// when the remote metadata could not be decoded.
type CelebrationPayload struct {
	ChallengeID string `json:"challenge_id,omitempty"`
	Milestone   string `json:"milestone,omitempty"`
	Badge       string `json:"badge,omitempty"`
	Streak      int    `json:"streak,omitempty"`
}

func (*CelebrationPayload) Kind() Kind { return KindCelebration }

func (p *CelebrationPayload) clone() Payload { c := *p; return &c }

// CompletedActionEntry records one habit completion inside a daily aggregate.
type CompletedActionEntry struct {
	ActionID    string    `json:"action_id"`
	Title       string    `json:"title"`
	Goal        string    `json:"goal,omitempty"`
	CompletedAt time.Time `json:"completed_at"`
	Streak      int       `json:"streak,omitempty"`
	Success     bool      `json:"success"`
}

// AggregatePayload summarizes every completion of one user on one calendar
// day, optionally scoped to a challenge. Entries are unique by ActionID.
type AggregatePayload struct {
	UserID         string                 `json:"user_id"`
	DayKey         string                 `json:"day_key"`
	ChallengeID    string                 `json:"challenge_id,omitempty"`
	Entries        []CompletedActionEntry `json:"entries"`
	ExpectedTotal  int                    `json:"expected_total"`
	CompletedCount int                    `json:"completed_count"`
}

func (*AggregatePayload) Kind() Kind { return KindDailyAggregate }

func (p *AggregatePayload) clone() Payload {
	c := *p
	if p.Entries != nil {
		c.Entries = append([]CompletedActionEntry(nil), p.Entries...)
	}
	return &c
}

// NewPayload returns an empty payload of the given kind. Unknown kinds get a
// status payload.
func NewPayload(k Kind) Payload {
	switch k {
	case KindCheckIn:
		return &CheckInPayload{}
	case KindPhoto:
		return &PhotoPayload{}
	case KindAudio:
		return &AudioPayload{}
	case KindGoal:
		return &GoalPayload{}
	case KindCelebration:
		return &CelebrationPayload{}
	case KindDailyAggregate:
		return &AggregatePayload{}
	default:
		return &StatusPayload{}
	}
}
