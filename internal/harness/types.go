package harness

import (
	"fmt"
	"strings"
)

// Report is the outcome of a scenario run. Its text form is deterministic
// and is what golden files hold.
type Report struct {
	Name  string       `json:"name"`
	Steps []StepResult `json:"steps"`
	Views []ViewReport `json:"views"`

	// Failures lists every check that did not hold. Empty means the run
	// passed.
	Failures []string `json:"failures,omitempty"`
}

// StepResult records how one step went.
type StepResult struct {
	Index   int    `json:"index"`
	Op      string `json:"op"`
	Target  string `json:"target,omitempty"`
	Outcome string `json:"outcome"`
}

// ViewReport is the final state of one view.
type ViewReport struct {
	Key     string       `json:"key"`
	State   string       `json:"state"`
	HasMore bool         `json:"has_more"`
	Offset  int          `json:"offset"`
	Error   string       `json:"error,omitempty"`
	Posts   []PostReport `json:"posts"`
}

// PostReport is the rendered summary of one post.
type PostReport struct {
	ID            string `json:"id"`
	Author        string `json:"author"`
	Kind          string `json:"kind"`
	Content       string `json:"content,omitempty"`
	Time          string `json:"time"`
	Reactions     int    `json:"reactions"`
	ViewerReacted bool   `json:"viewer_reacted,omitempty"`
	Likes         int    `json:"likes"`
	ViewerLiked   bool   `json:"viewer_liked,omitempty"`
	Comments      int    `json:"comments"`

	// Habits is "completed/expected" for aggregates.
	Habits string `json:"habits,omitempty"`
}

// Passed reports whether every check held.
func (r *Report) Passed() bool {
	return len(r.Failures) == 0
}

func (r *Report) fail(format string, args ...any) {
	r.Failures = append(r.Failures, fmt.Sprintf(format, args...))
}

// Text renders the report for humans and golden files.
func (r *Report) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "scenario %s\n", r.Name)
	for _, s := range r.Steps {
		line := fmt.Sprintf("  %02d %s", s.Index, s.Op)
		if s.Target != "" {
			line += " " + s.Target
		}
		fmt.Fprintf(&b, "%s -> %s\n", line, s.Outcome)
	}
	for _, v := range r.Views {
		fmt.Fprintf(&b, "view %s %s offset=%d has_more=%t\n", v.Key, v.State, v.Offset, v.HasMore)
		if v.Error != "" {
			fmt.Fprintf(&b, "  error: %s\n", v.Error)
		}
		for _, p := range v.Posts {
			fmt.Fprintf(&b, "  %s %s by %s (%s)", p.ID, p.Kind, p.Author, p.Time)
			fmt.Fprintf(&b, " reactions=%d%s likes=%d%s comments=%d",
				p.Reactions, mark(p.ViewerReacted), p.Likes, mark(p.ViewerLiked), p.Comments)
			if p.Habits != "" {
				fmt.Fprintf(&b, " habits=%s", p.Habits)
			}
			if p.Content != "" {
				fmt.Fprintf(&b, " %q", p.Content)
			}
			b.WriteString("\n")
		}
	}
	if len(r.Failures) == 0 {
		b.WriteString("PASS\n")
	} else {
		for _, f := range r.Failures {
			fmt.Fprintf(&b, "FAIL %s\n", f)
		}
	}
	return b.String()
}

func mark(on bool) string {
	if on {
		return "*"
	}
	return ""
}
