package extract

import (
	"fmt"
	"strings"
)

const promptTemplate = `You maintain the long-term memory of a private diary companion. Read the diary entry below and extract facts about the writer that will still be worth knowing weeks from now.

WHAT TO EXTRACT:
- Personal details: name, home, work, relationships, pets, health
- Lasting preferences: likes, dislikes, habits
- Ongoing goals, projects and commitments
- Significant events and what they meant to the writer

RULES:
- At most %d memories, one fact each, one or two plain sentences, no markdown
- Write about the writer in the third person ("They adopted a cat named Miso")
- Skip passing moods, weather and small talk
- importance is 1 (trivia) to 5 (core to who they are)
- type is "journal_fact" for facts and "reflection" for insights the writer reached
- Return an empty list when nothing is worth remembering

Respond with JSON only:
{"memories":[{"content":"...","type":"journal_fact","importance":3,"tags":["..."]}]}

DIARY ENTRY:
%s`

// BuildPrompt renders the extraction prompt for one diary entry.
func BuildPrompt(text string, max int) string {
	return fmt.Sprintf(promptTemplate, max, strings.TrimSpace(text))
}
