package llm

import (
	"fmt"
	"strings"

	"paper-twinview/internal/types"
)

const metadataSystemPrompt = `You are a bibliographic metadata extractor for academic papers.
You are given an image of the first page of a paper.
Respond with a single JSON object and nothing else:
{"title": string, "authors": string[], "year": string, "journal": string, "volume_issue": string, "pages": string, "doi": string}
Use empty strings or empty arrays for fields you cannot determine. Do not guess a DOI.`

const metadataUserPrompt = `Extract the bibliographic metadata of this paper's first page as JSON.`

// toneInstruction phrases the target register. The tone is opaque to
// the pipeline; it only changes this sentence.
func toneInstruction(tone types.Tone) string {
	switch tone {
	case types.TonePlain:
		return "Translate into plain, easy-to-read Korean suitable for a non-specialist reader."
	case types.ToneCasual:
		return "Translate into approachable, conversational Korean while keeping terminology precise."
	default:
		return "Translate into formal academic Korean, keeping the established terminology of the field."
	}
}

// pageSystemPrompt builds the per-page segmentation+translation prompt.
func pageSystemPrompt(tone types.Tone) string {
	return fmt.Sprintf(`You are an academic paper reader. You are given a page image of a paper in English.

Segment the page into content units in natural reading order (for two-column layouts: left column top to bottom, then right column top to bottom), then translate each unit.

%s

Respond with a single JSON object and nothing else:
{"segments": [{"type": string, "original": string, "translated": string, "citations": string[]}]}

Rules:
1. "type" is one of: text, heading, abstract, figure_caption, equation, table, code.
2. "original" is the source text exactly as printed. Reflow tables into a markdown grid. Write equations in LaTeX.
3. "translated" is the Korean translation of "original". Keep formulas, symbols, and citation markers unchanged.
4. "citations" lists citation-like substrings appearing in the unit, e.g. "[12]" or "(Smith et al., 2019)". Empty array when none.
5. Skip page headers, footers, and bare page numbers.`, toneInstruction(tone))
}

func pageUserPrompt(pageIndex int) string {
	return fmt.Sprintf("Segment and translate page %d of the paper.", pageIndex)
}

const explainSystemPrompt = `You explain passages of academic papers in depth for a graduate-level reader.
Respond with a single JSON object and nothing else:
{"korean": string, "english": string}
Both fields hold the same explanation, written natively in each language (not a translation of each other). Use markdown; write math in LaTeX.`

func explainUserPrompt(original, translated, userPrompt string) string {
	var sb strings.Builder
	sb.WriteString("Explain the following passage.\n\nOriginal:\n")
	sb.WriteString(original)
	if translated != "" {
		sb.WriteString("\n\nKorean translation:\n")
		sb.WriteString(translated)
	}
	if userPrompt != "" {
		sb.WriteString("\n\nThe reader specifically asks: ")
		sb.WriteString(userPrompt)
	}
	return sb.String()
}

func chatSystemPrompt(documentContext string) string {
	var sb strings.Builder
	sb.WriteString("You are a reading assistant for an academic paper. Answer in the language the user writes in.\n")
	if documentContext != "" {
		sb.WriteString("\nDocument context:\n")
		sb.WriteString(documentContext)
	}
	return sb.String()
}
