// Package thinking splits assistant output into reasoning and answer
// segments. Models that expose intermediate reasoning wrap it in
// <think>...</think> tags; during streaming the closing tag may not have
// arrived yet, or the text may end mid-tag, and the parser must still
// produce a usable segment list for every render frame.
package thinking

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/sgallard/parley/internal/models"
)

const (
	openTag  = "<think>"
	closeTag = "</think>"
)

var newlineRuns = regexp.MustCompile(`\n{3,}`)

// Parse splits text into ordered segments. complete reports whether the
// message has finished streaming.
//
// While streaming, an opened tag with no close yet still yields a reasoning
// segment (IsOpen=true) so the caller can render "still reasoning" live.
// Once complete, an unclosed tag is treated as closed at end of string,
// except the degenerate case where the whole text is an open tag followed
// only by whitespace: that tag is discarded entirely.
func Parse(text string, complete bool) []models.Segment {
	segments := []models.Segment{}

	if complete && !strings.Contains(text, closeTag) {
		if rest, ok := strings.CutPrefix(text, openTag); ok && strings.TrimSpace(rest) == "" {
			return segments
		}
	}

	rest := text
	offset := 0
	for {
		i := strings.Index(rest, openTag)
		if i < 0 {
			break
		}

		if before := rest[:i]; strings.TrimSpace(before) != "" {
			segments = append(segments, models.Segment{
				Type: models.SegmentTypeAnswer,
				Text: before,
			})
		}

		tagStart := offset + i
		body := rest[i+len(openTag):]

		j := strings.Index(body, closeTag)
		if j < 0 {
			// Unterminated tag: everything to end of string is reasoning.
			if !complete || strings.TrimSpace(body) != "" {
				segments = append(segments, models.Segment{
					Type:   models.SegmentTypeReasoning,
					Text:   body,
					IsOpen: !complete,
					ID:     segmentID(tagStart),
				})
			}
			return segments
		}

		inner := body[:j]
		if !complete || strings.TrimSpace(inner) != "" {
			segments = append(segments, models.Segment{
				Type: models.SegmentTypeReasoning,
				Text: inner,
				ID:   segmentID(tagStart),
			})
		}

		consumed := i + len(openTag) + j + len(closeTag)
		offset += consumed
		rest = rest[consumed:]
	}

	if strings.TrimSpace(rest) != "" {
		segments = append(segments, models.Segment{
			Type: models.SegmentTypeAnswer,
			Text: rest,
		})
	}

	return segments
}

// Strip reduces text to its answer segments only, collapsing runs of three
// or more newlines to exactly two and trimming the result. Idempotent:
// Strip(Strip(x)) == Strip(x).
func Strip(text string) string {
	var b strings.Builder
	for _, segment := range Parse(text, true) {
		if segment.Type == models.SegmentTypeAnswer {
			b.WriteString(segment.Text)
		}
	}
	return strings.TrimSpace(newlineRuns.ReplaceAllString(b.String(), "\n\n"))
}

func segmentID(start int) string {
	return fmt.Sprintf("think-%d", start)
}
