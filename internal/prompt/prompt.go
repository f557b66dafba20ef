// Package prompt assembles the final instruction sent to the generation
// backend from a persona template, the user's query, and retrieved reference
// passages. Composition is pure string assembly — deterministic, no I/O —
// so the package is trivially testable and safe to call concurrently.
package prompt

import (
	"strings"
)

// textPersona is the system instruction used for consultations without an
// image. It pins the answer to a clinician's voice and a hard two-sentence
// cap so the synthesized audio stays short.
const textPersona = `You have to act as a professional doctor, i know you are not but this is for learning purpose.
If you make a differential, suggest some remedies for them. Donot add any numbers or special characters in
your response. Your response should be in one long paragraph. Also always answer as if you are answering to a real person.
Dont respond as an AI model in markdown, your answer should mimic that of an actual doctor not an AI bot,
Keep your answer concise (max 2 sentences). No preamble, start your answer right away please.`

// imagePersona is the system instruction used when the consultation carries
// an image. Identical behavioral constraints to textPersona, plus the
// inferential opening — the model must never announce what it sees.
const imagePersona = `You have to act as a professional doctor, i know you are not but this is for learning purpose.
What's in this image?. Do you find anything wrong with it medically?
If you make a differential, suggest some remedies for them. Donot add any numbers or special characters in
your response. Your response should be in one long paragraph. Also always answer as if you are answering to a real person.
Donot say 'In the image I see' but say 'With what I see, I think you have ....'
Dont respond as an AI model in markdown, your answer should mimic that of an actual doctor not an AI bot,
Keep your answer concise (max 2 sentences). No preamble, start your answer right away please.`

// contextBanner introduces the retrieved passages inside the instruction
// block and tells the model retrieved context is optional grounding, not a
// mandate.
const contextBanner = "Below is some Retrieved Context. If you find it useful for your answer then use it, otherwise ignore it."

// Composed is the fully assembled prompt for one consultation.
type Composed struct {
	// System is the persona instruction carried in the system role.
	System string

	// Instruction is the user-role text block: the literal query followed
	// by the retrieved context section.
	Instruction string

	// HasImage records which persona was selected.
	HasImage bool
}

// Persona returns the system instruction Compose will select for the given
// image presence. Callers that budget prompt size use it to count the
// persona without composing twice.
func Persona(hasImage bool) string {
	if hasImage {
		return imagePersona
	}
	return textPersona
}

// Compose selects a persona based on image presence and assembles the
// instruction block from the user query and retrieved passages. Passages are
// joined with newlines; an empty passage list yields an instruction without
// a context section rather than an error.
func Compose(userQuery string, passages []string, hasImage bool) Composed {
	persona := Persona(hasImage)

	var b strings.Builder
	b.WriteString("User Query:\n")
	b.WriteString(userQuery)

	joined := joinPassages(passages)
	if joined != "" {
		b.WriteString("\n\n")
		b.WriteString(contextBanner)
		b.WriteString("\n\nRetrieved Context:\n")
		b.WriteString(joined)
	}

	return Composed{
		System:      persona,
		Instruction: b.String(),
		HasImage:    hasImage,
	}
}

// joinPassages joins non-empty passages with newline separators.
func joinPassages(passages []string) string {
	kept := make([]string, 0, len(passages))
	for _, p := range passages {
		if strings.TrimSpace(p) == "" {
			continue
		}
		kept = append(kept, p)
	}
	return strings.Join(kept, "\n")
}
