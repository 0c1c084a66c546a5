package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/habitfeed/internal/feed"
	"github.com/roach88/habitfeed/internal/gateway"
	"github.com/roach88/habitfeed/internal/testutil"
)

// Scenario is a scripted session against the in-memory gateway: a seeded
// backend, then a list of engine operations and checks run in order.
type Scenario struct {
	// Name identifies the scenario and names its golden file.
	Name        string `yaml:"name"`
	Description string `yaml:"description"`

	Viewer Viewer `yaml:"viewer,omitempty"`

	// PageSize defaults to 3 so short scenarios still paginate.
	PageSize int `yaml:"page_size,omitempty"`

	// Seed fills the backend, newest first.
	Seed []SeedPost `yaml:"seed,omitempty"`

	Steps []Step `yaml:"steps"`
}

// Viewer is the signed-in user. UserID defaults to "me".
type Viewer struct {
	UserID    string `yaml:"user_id,omitempty"`
	AvatarURL string `yaml:"avatar_url,omitempty"`
}

// SeedPost describes a backend post. Age is relative to the scenario epoch.
type SeedPost struct {
	ID         string   `yaml:"id"`
	Author     string   `yaml:"author,omitempty"`
	Kind       string   `yaml:"kind,omitempty"`
	Visibility string   `yaml:"visibility,omitempty"`
	Circles    []string `yaml:"circles,omitempty"`
	Content    string   `yaml:"content,omitempty"`
	MediaURL   string   `yaml:"media_url,omitempty"`
	Age        string   `yaml:"age,omitempty"`
	Likes      int      `yaml:"likes,omitempty"`
	Reactions  int      `yaml:"reactions,omitempty"`
	Challenge  string   `yaml:"challenge,omitempty"`
	Actions    []string `yaml:"actions,omitempty"`
}

// DraftSpec is the draft of a create_post step.
type DraftSpec struct {
	TempID     string   `yaml:"temp_id,omitempty"`
	Kind       string   `yaml:"kind,omitempty"`
	Content    string   `yaml:"content,omitempty"`
	Visibility string   `yaml:"visibility,omitempty"`
	Circles    []string `yaml:"circles,omitempty"`
	MediaURL   string   `yaml:"media_url,omitempty"`
}

// HabitSpec is the completion of a record_habit or undo_habit step.
type HabitSpec struct {
	Action        string `yaml:"action"`
	Title         string `yaml:"title,omitempty"`
	Goal          string `yaml:"goal,omitempty"`
	Streak        int    `yaml:"streak,omitempty"`
	Missed        bool   `yaml:"missed,omitempty"`
	Challenge     string `yaml:"challenge,omitempty"`
	ExpectedTotal int    `yaml:"expected_total,omitempty"`
}

// Step is one operation. Which fields apply depends on Op.
type Step struct {
	Op string `yaml:"op"`

	View     string     `yaml:"view,omitempty"`
	Post     string     `yaml:"post,omitempty"`
	Emoji    string     `yaml:"emoji,omitempty"`
	Content  string     `yaml:"content,omitempty"`
	Draft    *DraftSpec `yaml:"draft,omitempty"`
	Habit    *HabitSpec `yaml:"habit,omitempty"`
	Record   *SeedPost  `yaml:"record,omitempty"`
	Gateway  string     `yaml:"gateway,omitempty"`
	Error    string     `yaml:"error,omitempty"`
	Duration string     `yaml:"duration,omitempty"`

	// ExpectError is the error code the operation must fail with, or "any".
	// Without it the operation must succeed.
	ExpectError string `yaml:"expect_error,omitempty"`

	// Checks of the view after the step. Used by "expect" and by any step
	// that names a view.
	IDs     []string `yaml:"ids,omitempty"`
	Offset  *int     `yaml:"offset,omitempty"`
	HasMore *bool    `yaml:"has_more,omitempty"`
}

// Step ops.
const (
	OpRefresh              = "refresh"
	OpForceRefresh         = "force_refresh"
	OpLoadMore             = "load_more"
	OpReact                = "react"
	OpToggleLike           = "toggle_like"
	OpComment              = "comment"
	OpCreatePost           = "create_post"
	OpRecordHabit          = "record_habit"
	OpUndoHabit            = "undo_habit"
	OpPublish              = "publish"
	OpFailNext             = "fail_next"
	OpAdvance              = "advance"
	OpSignOut              = "sign_out"
	OpInvalidateMembership = "invalidate_membership"
	OpDismissError         = "dismiss_error"
	OpExpect               = "expect"
)

// LoadScenario reads and parses a scenario YAML file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	s, err := ParseScenario(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// ParseScenario checks data against the scenario schema, then decodes it
// strictly: unknown fields are rejected in both passes.
func ParseScenario(data []byte) (*Scenario, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := checkSchema(doc); err != nil {
		return nil, err
	}

	var s Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&s); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &s, nil
}

// validateScenario checks what the schema cannot: view keys parse and seed
// ids are unique.
func validateScenario(s *Scenario) error {
	seen := make(map[string]bool)
	for i, p := range s.Seed {
		if seen[p.ID] {
			return fmt.Errorf("seed[%d]: duplicate id %s", i, p.ID)
		}
		seen[p.ID] = true
	}
	for i, st := range s.Steps {
		if st.View == "" {
			continue
		}
		if _, err := feed.ParseViewKey(st.View); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
	}
	return nil
}

// record renders a seed post in the gateway's wire shape.
func (p SeedPost) record(viewerID string) (gateway.Record, error) {
	var age time.Duration
	if p.Age != "" {
		d, err := time.ParseDuration(p.Age)
		if err != nil {
			return nil, fmt.Errorf("post %s: age: %w", p.ID, err)
		}
		age = d
	}
	author := p.Author
	if author == "" {
		author = "friend"
	}
	kind := p.Kind
	if kind == "" {
		kind = string(feed.KindStatus)
	}
	rec := testutil.StatusRecord(p.ID, author, age)
	rec["type"] = kind
	if p.Content != "" || kind != string(feed.KindStatus) {
		rec["content"] = p.Content
	}
	if p.Visibility != "" {
		rec["visibility"] = p.Visibility
	}
	if len(p.Circles) > 0 {
		ids := make([]any, len(p.Circles))
		for i, c := range p.Circles {
			ids[i] = c
		}
		rec["circle_ids"] = ids
		if p.Visibility == "" {
			rec["visibility"] = string(feed.VisibilityGroups)
		}
	}
	if p.MediaURL != "" {
		rec["media_url"] = p.MediaURL
	}
	if p.Likes > 0 {
		rec["like_count"] = p.Likes
	}
	if p.Reactions > 0 {
		rec["reaction_count"] = p.Reactions
	}
	if kind == string(feed.KindDailyAggregate) {
		createdAt := testutil.Epoch.Add(-age)
		entries := make([]any, len(p.Actions))
		for i, a := range p.Actions {
			entries[i] = map[string]any{
				"action_id":    a,
				"title":        a,
				"completed_at": createdAt.Format(time.RFC3339),
				"success":      true,
			}
		}
		rec["day_key"] = gateway.DayKey(createdAt)
		rec["completed_actions"] = entries
		rec["completed_count"] = len(p.Actions)
		if p.Challenge != "" {
			rec["challenge_id"] = p.Challenge
		}
	}
	return rec, nil
}
