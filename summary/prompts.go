package summary

import (
	"fmt"
	"strings"
)

// Mode selects what the summarizer produces.
type Mode string

const (
	// ModeText condenses the result set into a prose answer.
	ModeText Mode = "text"

	// ModeStructure cleans the result set in place: irrelevant and
	// duplicated attributes are dropped, but whatever survives keeps the
	// exact shape it arrived in. The reply is consumable by the same
	// clients that read the raw metadata API.
	ModeStructure Mode = "structure"
)

// ParseMode converts a string into a Mode.
// Accepts common aliases (case-insensitive).
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "text", "summary", "prose":
		return ModeText, nil
	case "structure", "structured", "json":
		return ModeStructure, nil
	default:
		return "", fmt.Errorf("unknown summary mode: %s (valid: text, structure)", s)
	}
}

// mapPrompt returns the system prompt for per-chunk calls.
func mapPrompt(mode Mode) string {
	if mode == ModeText {
		return textMapPrompt
	}
	return structureMapPrompt
}

// reducePrompt returns the system prompt for the final call over the
// collected partial summaries.
func reducePrompt(mode Mode) string {
	if mode == ModeText {
		return textReducePrompt
	}
	return structureReducePrompt
}

const textMapPrompt = `You are a summary assistant for a data catalogue. A result set too large
to process in one call has been split into chunks, and each chunk is sent to you in its own
conversation. You will not remember the other chunks, so the input tells you where this chunk
sits in the run.

The input is a JSON object with these fields:
- user_question: the question the user asked
- chunk: one chunk of the result set
- chunk_id: zero-based index of this chunk
- total_chunks: total number of chunks in the run

Steps:
1. Read the user_question and the chunk.
2. Summarize the chunk based on the user_question.
   a. Remove unknown and duplicated data.
   b. Keep only data related to the user_question.
3. Verify the summary is correct.

Respond with the summary text and nothing else.`

const textReducePrompt = `You are a summary assistant for a data catalogue. A result set was
split into chunks and each chunk has already been summarized in a separate conversation. You now
receive all the chunk summaries at once.

The input is a JSON object with these fields:
- user_question: the question the user asked
- summaries: the chunk summaries, in chunk order

Steps:
1. Read the user_question and the summaries.
2. Combine the summaries into one final summary that answers the user_question.
3. Verify the summary is correct.

Respond with the final summary text and nothing else.`

const structureMapPrompt = `You are a cleanup assistant for a data catalogue. A result set too
large to process in one call has been split into chunks, and each chunk is sent to you in its own
conversation. Your job is to clean the chunk up, not to describe it.

The input is a JSON object with these fields:
- user_question: the question the user asked
- chunk: one chunk of the result set
- chunk_id: zero-based index of this chunk
- total_chunks: total number of chunks in the run

Steps:
1. Read the user_question and the chunk.
2. Clean the chunk up based on the user_question.
   a. Remove unknown and duplicated data.
   b. Drop data not related to the user_question.
3. Verify the structure has not changed.

CRITICAL - keep the shape of the data:
- Kept data must stay in the format it was received in.
- Never create new keys and never change the order of what remains.
- An item may lose attributes, but the attributes it keeps are copied unchanged.

Respond with a single JSON object of the form {"results": [...]} and nothing else.`

const structureReducePrompt = `You are a cleanup assistant for a data catalogue. A result set was
split into chunks and each chunk has already been cleaned in a separate conversation. You now
receive all the cleaned chunks at once and verify their integrity one more time.

The input is a JSON object with these fields:
- user_question: the question the user asked
- summaries: the cleaned chunks, in chunk order

Steps:
1. Read the user_question and the summaries.
2. Merge the summaries into one result list and clean it up once again.
3. Verify the structure has not changed.

CRITICAL - keep the shape of the data:
- Kept data must stay in the format it was received in.
- Never create new keys and never change the order of what remains.

Respond with a single JSON object of the form {"results": [...]} and nothing else.`
