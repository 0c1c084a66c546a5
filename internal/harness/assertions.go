package harness

import (
	"slices"
	"strings"

	"github.com/roach88/habitfeed/internal/engine"
)

// checkOutcome compares an operation's error with the step's expect_error.
func checkOutcome(r *Report, label, want string, err error) {
	switch {
	case want == "" && err != nil:
		r.fail("%s: unexpected error: %v", label, err)
	case want != "" && err == nil:
		r.fail("%s: expected %s, got success", label, want)
	case want != "" && want != "any":
		if got := engine.CodeOf(err); string(got) != want {
			r.fail("%s: expected %s, got %s (%v)", label, want, got, err)
		}
	}
}

// checkView compares a view snapshot with the step's ids, offset and
// has_more checks. Only the checks the step sets are evaluated.
func checkView(r *Report, label string, st Step, snap engine.ViewSnapshot) {
	if st.IDs != nil {
		got := snap.IDs()
		if !slices.Equal(got, st.IDs) {
			r.fail("%s: view %s ids = [%s], want [%s]",
				label, st.View, strings.Join(got, " "), strings.Join(st.IDs, " "))
		}
	}
	if st.Offset != nil && snap.Offset != *st.Offset {
		r.fail("%s: view %s offset = %d, want %d", label, st.View, snap.Offset, *st.Offset)
	}
	if st.HasMore != nil && snap.HasMore != *st.HasMore {
		r.fail("%s: view %s has_more = %t, want %t", label, st.View, snap.HasMore, *st.HasMore)
	}
}
