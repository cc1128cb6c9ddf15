package worker

import (
	"strconv"
	"time"

	"github.com/JakeFAU/chesscom-crawler/internal/crawler"
)

// Notice is the message published for each recorded attempt. The payload
// itself is not included; ArchiveURI points at it when archiving is enabled.
type Notice struct {
	ID         string    `json:"id"`
	Target     string    `json:"target"`
	Attempt    int       `json:"attempt"`
	Outcome    string    `json:"outcome"`
	StatusCode int       `json:"status_code"`
	Reason     string    `json:"reason,omitempty"`
	ElapsedMS  float64   `json:"elapsed_ms"`
	Discovered int       `json:"discovered"`
	FinishedAt time.Time `json:"finished_at"`
	ArchiveURI string    `json:"archive_uri,omitempty"`
}

func newNotice(a crawler.Attempt, archiveURI string) Notice {
	return Notice{
		ID:         a.ID,
		Target:     a.Target,
		Attempt:    a.Attempt,
		Outcome:    a.Outcome.String(),
		StatusCode: a.StatusCode,
		Reason:     a.Reason,
		ElapsedMS:  float64(a.Elapsed) / float64(time.Millisecond),
		Discovered: a.Discovered,
		FinishedAt: a.FinishedAt,
		ArchiveURI: archiveURI,
	}
}

// Attributes lets subscribers filter on outcome without decoding the body.
func (n Notice) Attributes() map[string]string {
	return map[string]string{
		"outcome": n.Outcome,
		"attempt": strconv.Itoa(n.Attempt),
	}
}
