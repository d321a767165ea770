package draft

import "strings"

// Profile summaries shorter than this are replaced with a transcript snippet.
const minSummaryWords = 10

// snippetWords bounds the transcript-derived summary.
const snippetWords = 60

// degenerateSummary reports whether a profile summary adds nothing over the headline.
func degenerateSummary(headline, summary string) bool {
	if strings.EqualFold(strings.TrimSpace(headline), strings.TrimSpace(summary)) {
		return true
	}
	return len(strings.Fields(summary)) < minSummaryWords
}

// TranscriptSnippet returns the first snippetWords words of the transcript
// with whitespace collapsed.
func TranscriptSnippet(transcript string) string {
	words := strings.Fields(transcript)
	if len(words) > snippetWords {
		return strings.Join(words[:snippetWords], " ") + "…"
	}
	return strings.Join(words, " ")
}
