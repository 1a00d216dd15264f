package extraction

import (
	"fmt"
	"strings"
)

// identifyPrompt asks the model to locate every decision in a transcript.
// Appearances matter more than detail here; phase 2 fills in the reasoning.
const identifyPrompt = `You are analyzing a software development conversation between a developer and an AI coding assistant. Messages are numbered: each block starts with [<index>] <ROLE>:.

Identify every decision made in the conversation. A decision is an explicit choice, commitment, or constraint about the software being built (architecture, libraries, data models, naming, trade-offs). Ignore instructions about tool usage, output formatting, or the conversation itself.

For each decision, record every place it surfaces. A decision may be introduced early and modified or reaffirmed later; list each such span as a separate appearance on the same decision. Use the message index numbers from the transcript.

Transcript:
`

// identifySchemaInstructions is appended to the identify prompt.
const identifySchemaInstructions = `Respond ONLY with a JSON object, no additional text:
{
  "decisions": [
    {
      "tempId": "short unique id, e.g. d1, d2",
      "title": "concise decision title",
      "appearances": [
        {"messageStart": 0, "messageEnd": 2, "kind": "introduced|elaborated|modified|reaffirmed"}
      ],
      "confidence": 0.0 to 1.0
    }
  ]
}`

// extractSchemaInstructions is appended to every phase-2 prompt.
const extractSchemaInstructions = `Respond ONLY with a JSON object, no additional text:
{
  "summary": "1-2 sentence summary of the decision",
  "reasoning": "why this decision was made",
  "alternativesConsidered": [
    {"description": "the alternative", "whyRejected": "why it was not chosen"}
  ],
  "status": "active|superseded|tentative",
  "dependsOn": ["tempIds of other listed decisions this one depends on"],
  "confidence": 0.0 to 1.0
}`

// buildIdentifyPrompt renders the phase-1 prompt over the full transcript.
func buildIdentifyPrompt(transcript string) string {
	return identifyPrompt + transcript
}

// buildExtractPrompt renders the phase-2 prompt for one candidate. The other
// candidates' tempIds and titles are listed so dependsOn references always
// resolve against the phase-1 candidate set.
func buildExtractPrompt(candidate DecisionCandidate, contextWindow string, allCandidates []DecisionCandidate) string {
	var b strings.Builder
	b.WriteString("You are analyzing one decision from a software development conversation. Messages are numbered: each block starts with [<index>] <ROLE>:.\n\n")
	fmt.Fprintf(&b, "Decision under analysis: %q (id %s)\n\n", candidate.Title, candidate.TempID)

	others := make([]string, 0, len(allCandidates))
	for _, c := range allCandidates {
		if c.TempID == candidate.TempID {
			continue
		}
		others = append(others, fmt.Sprintf("- %s: %s", c.TempID, c.Title))
	}
	if len(others) > 0 {
		b.WriteString("Other decisions in this conversation (reference these ids in dependsOn when this decision builds on them):\n")
		b.WriteString(strings.Join(others, "\n"))
		b.WriteString("\n\n")
	}

	b.WriteString("Extract the full reasoning behind the decision: what was chosen, why, which alternatives were considered and rejected, whether the decision is still active or was superseded or left tentative, and which other listed decisions it depends on.\n\n")
	b.WriteString("Relevant conversation excerpt:\n")
	b.WriteString(contextWindow)
	return b.String()
}
