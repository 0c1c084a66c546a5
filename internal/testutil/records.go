package testutil

import (
	"fmt"
	"time"

	"github.com/roach88/habitfeed/internal/gateway"
)

// Epoch is the reference instant fixtures are stamped relative to.
var Epoch = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

// StatusRecord returns a network-visible status post record by author,
// created age before Epoch.
func StatusRecord(id, author string, age time.Duration) gateway.Record {
	return gateway.Record{
		"id":          id,
		"user_id":     author,
		"author_name": author,
		"type":        "status",
		"visibility":  "network",
		"content":     fmt.Sprintf("post %s", id),
		"created_at":  Epoch.Add(-age).Format(time.RFC3339),
	}
}

// CircleRecord returns a status post shared with the given circles.
func CircleRecord(id, author string, age time.Duration, circles ...string) gateway.Record {
	rec := StatusRecord(id, author, age)
	rec["visibility"] = "groups"
	ids := make([]any, len(circles))
	for i, c := range circles {
		ids[i] = c
	}
	rec["circle_ids"] = ids
	return rec
}

// Records returns n status records "<prefix>1".."<prefix>n", newest first,
// one minute apart.
func Records(prefix string, n int) []gateway.Record {
	out := make([]gateway.Record, n)
	for i := range out {
		out[i] = StatusRecord(fmt.Sprintf("%s%d", prefix, i+1), "u2", time.Duration(i+1)*time.Minute)
	}
	return out
}
