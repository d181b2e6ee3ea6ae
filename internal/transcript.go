package internal

import (
	"fmt"
	"strings"
	"time"
)

const replyExcerptMax = 24

// LineKind distinguishes transcript rows.
type LineKind int

const (
	LineSeparator LineKind = iota
	LineMessage
)

// TranscriptLine is one display row. Separator lines carry only Label;
// message lines carry the message plus its marker and hover detail.
type TranscriptLine struct {
	Kind    LineKind
	Label   string
	Message Message
	Marker  string
	Detail  string
}

// ProjectTranscript maps ascending messages to display lines. It is a
// pure function of its inputs: same messages, viewer and evaluation
// time always produce the same lines. Messages without a createdAt
// still render, they just never start a separator.
func ProjectTranscript(msgs []Message, viewer string, now time.Time) []TranscriptLine {
	lines := make([]TranscriptLine, 0, len(msgs))
	var anchor *time.Time
	for _, msg := range msgs {
		if msg.CreatedAt != nil {
			if anchor == nil || !msg.CreatedAt.Before(anchor.Add(time.Hour)) {
				lines = append(lines, TranscriptLine{
					Kind:  LineSeparator,
					Label: timeLabel(*msg.CreatedAt, now),
				})
				t := *msg.CreatedAt
				anchor = &t
			}
		}
		lines = append(lines, TranscriptLine{
			Kind:    LineMessage,
			Message: msg,
			Marker:  readMarker(msg, viewer),
			Detail:  hoverDetail(msg, viewer, now),
		})
	}
	return lines
}

// readMarker reports whether, from the viewer's side, the message has
// reached someone besides its author. The author looks for any other
// reader; everyone else only knows about their own receipt.
func readMarker(msg Message, viewer string) string {
	if viewer == msg.Sender {
		if msg.SeenByOther() {
			return "##"
		}
		return "#"
	}
	if msg.SeenBy[viewer] {
		return "##"
	}
	return "#"
}

func hoverDetail(msg Message, viewer string, now time.Time) string {
	var parts []string
	if msg.CreatedAt != nil {
		parts = append(parts, "sent "+timeLabel(*msg.CreatedAt, now))
	}
	if read, ok := readTime(msg, viewer); ok {
		parts = append(parts, "read "+timeLabel(read, now))
	}
	return strings.Join(parts, "\n")
}

// readTime picks the receipt timestamp relevant to the viewer: for own
// messages the latest receipt by anyone else, for others' messages the
// viewer's own receipt.
func readTime(msg Message, viewer string) (time.Time, bool) {
	if viewer != msg.Sender {
		at, ok := msg.SeenAt[viewer]
		return at, ok
	}
	var latest time.Time
	found := false
	for user, at := range msg.SeenAt {
		if user == msg.Sender {
			continue
		}
		if !found || at.After(latest) {
			latest = at
			found = true
		}
	}
	return latest, found
}

// timeLabel renders "3:04 PM" for same-day times and prefixes the
// date otherwise.
func timeLabel(at, now time.Time) string {
	sameDay := at.Year() == now.Year() && at.YearDay() == now.YearDay()
	if sameDay {
		return at.Format("3:04 PM")
	}
	return at.Format("2 Jan") + " • " + at.Format("3:04 PM")
}

// ComposeReply prefixes a quoted excerpt of the target ahead of the
// new content. Excerpts longer than 24 characters are truncated with
// an ellipsis.
func ComposeReply(target Message, content string) string {
	excerpt := []rune(target.Body)
	if len(excerpt) > replyExcerptMax {
		excerpt = append(excerpt[:replyExcerptMax], '…')
	}
	return fmt.Sprintf("> %s: %s\n%s", target.Sender, string(excerpt), content)
}
