// Package notes turns a visit transcription into a structured clinical note
// and a note into a plain-language email for the patient. Unlike the risk
// pipeline these operations return errors: the recording flow must know when
// there is no note rather than silently storing an empty one.
package notes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/nyashahama/clinical-risk-backend/internal/ai"
	"github.com/nyashahama/clinical-risk-backend/internal/jsonscan"
)

// Template names a note layout.
type Template string

const (
	TemplateSOAP         Template = "soap"
	TemplateProgress     Template = "progress"
	TemplateConsultation Template = "consultation"
	TemplateHP           Template = "hp"
)

// Model parameters.
const (
	NoteTemperature    = 0.3
	NoteMaxTokens      = 2048
	SummaryTemperature = 0.5
	SummaryMaxTokens   = 1024
)

var (
	ErrUnknownTemplate    = errors.New("notes: unknown template")
	ErrEmptyTranscription = errors.New("notes: transcription is empty")
	ErrEmptyNote          = errors.New("notes: note has no content")
)

type templateDef struct {
	title    string
	sections []string
}

var templates = map[Template]templateDef{
	TemplateSOAP: {
		title:    "SOAP note",
		sections: []string{"subjective", "objective", "assessment", "plan"},
	},
	TemplateProgress: {
		title:    "progress note",
		sections: []string{"progress", "assessment", "plan"},
	},
	TemplateConsultation: {
		title:    "consultation note",
		sections: []string{"reasonForConsultation", "historyOfPresentIllness", "findings", "assessment", "recommendations"},
	},
	TemplateHP: {
		title: "history and physical (H&P)",
		sections: []string{
			"chiefComplaint", "historyOfPresentIllness", "pastMedicalHistory",
			"medications", "allergies", "reviewOfSystems", "physicalExam",
			"assessment", "plan",
		},
	},
}

// ParseTemplate accepts the template names case-insensitively; "h&p" is an
// alias for hp.
func ParseTemplate(s string) (Template, error) {
	t := Template(strings.ToLower(strings.TrimSpace(s)))
	if t == "h&p" {
		t = TemplateHP
	}
	if _, ok := templates[t]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownTemplate, s)
	}
	return t, nil
}

// Sections lists the section keys of t in display order.
func (t Template) Sections() []string {
	return append([]string(nil), templates[t].sections...)
}

// Note is a generated clinical note. Sections always holds every key of the
// template; a section the model left out is "".
type Note struct {
	Template Template          `json:"template"`
	Sections map[string]string `json:"sections"`
}

// EmailDraft is a patient-facing summary ready to hand to the mail relay.
type EmailDraft struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Writer generates notes and patient summaries through a language model.
type Writer struct {
	gen    ai.Generator
	logger *slog.Logger
}

func NewWriter(gen ai.Generator, logger *slog.Logger) *Writer {
	return &Writer{gen: gen, logger: logger}
}

// ─── NOTE GENERATION ─────────────────────────────────────────────────────────

// Generate writes a note of the given template from a transcription.
func (w *Writer) Generate(ctx context.Context, transcription string, tpl Template) (Note, error) {
	def, ok := templates[tpl]
	if !ok {
		return Note{}, fmt.Errorf("%w: %q", ErrUnknownTemplate, tpl)
	}
	transcription = strings.TrimSpace(transcription)
	if transcription == "" {
		return Note{}, ErrEmptyTranscription
	}

	text, err := w.gen.GenerateText(ctx,
		[]ai.Message{{Role: ai.RoleUser, Content: "Transcription:\n" + transcription}},
		ai.Options{
			SystemPrompt: noteSystemPrompt(def),
			Temperature:  NoteTemperature,
			MaxTokens:    NoteMaxTokens,
		},
	)
	if err != nil {
		return Note{}, fmt.Errorf("notes: generate %s: %w", tpl, err)
	}

	obj, err := jsonscan.Decode(text)
	if err != nil {
		return Note{}, fmt.Errorf("notes: parse %s response: %w", tpl, err)
	}

	note := Note{Template: tpl, Sections: make(map[string]string, len(def.sections))}
	filled := 0
	for _, key := range def.sections {
		note.Sections[key] = sectionText(obj[key])
		if note.Sections[key] != "" {
			filled++
		}
	}
	if filled == 0 {
		return Note{}, fmt.Errorf("notes: %s response had no template sections: %w", tpl, ErrEmptyNote)
	}

	w.logger.Debug("notes: generated", "template", tpl, "sections_filled", filled)
	return note, nil
}

func noteSystemPrompt(def templateDef) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a medical scribe. Write a %s from the clinician-patient conversation transcription you are given.\n\n", def.title)
	b.WriteString("Use professional clinical language. Only document what was said; do not invent findings, vitals or medications. ")
	b.WriteString("If the transcription says nothing relevant for a section, use an empty string.\n\n")
	b.WriteString("Respond with ONLY a JSON object with exactly these string fields:\n{\n")
	for i, s := range def.sections {
		fmt.Fprintf(&b, "  %q: \"...\"", s)
		if i < len(def.sections)-1 {
			b.WriteString(",")
		}
		b.WriteString("\n")
	}
	b.WriteString("}")
	return b.String()
}

// sectionText accepts a string, or a list of strings joined one per line.
func sectionText(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case []any:
		lines := make([]string, 0, len(t))
		for _, el := range t {
			if s, ok := el.(string); ok && strings.TrimSpace(s) != "" {
				lines = append(lines, strings.TrimSpace(s))
			}
		}
		return strings.Join(lines, "\n")
	}
	return ""
}

// ─── PATIENT SUMMARY ─────────────────────────────────────────────────────────

const summarySystemPrompt = `You write short, warm, plain-language visit summaries that a clinician sends to their patient by email.
Avoid medical jargon; explain any necessary terms. Do not add diagnoses, medications or instructions that are not in the note.
Do not include a sign-off; the clinic adds one.

Respond with ONLY a JSON object: {"subject": "<email subject>", "body": "<email body, plain text>"}`

// PatientSummary drafts an email summarizing note for the patient.
func (w *Writer) PatientSummary(ctx context.Context, note Note, patientName string) (EmailDraft, error) {
	var b strings.Builder
	if patientName = strings.TrimSpace(patientName); patientName != "" {
		fmt.Fprintf(&b, "Patient name: %s\n\n", patientName)
	}
	b.WriteString("Clinical note:\n")
	written := 0
	for _, key := range note.orderedKeys() {
		if text := strings.TrimSpace(note.Sections[key]); text != "" {
			fmt.Fprintf(&b, "\n%s:\n%s\n", key, text)
			written++
		}
	}
	if written == 0 {
		return EmailDraft{}, ErrEmptyNote
	}

	text, err := w.gen.GenerateText(ctx,
		[]ai.Message{{Role: ai.RoleUser, Content: b.String()}},
		ai.Options{
			SystemPrompt: summarySystemPrompt,
			Temperature:  SummaryTemperature,
			MaxTokens:    SummaryMaxTokens,
		},
	)
	if err != nil {
		return EmailDraft{}, fmt.Errorf("notes: patient summary: %w", err)
	}

	obj, err := jsonscan.Decode(text)
	if err != nil {
		return EmailDraft{}, fmt.Errorf("notes: parse patient summary: %w", err)
	}

	draft := EmailDraft{
		Subject: strings.TrimSpace(sectionText(obj["subject"])),
		Body:    strings.TrimSpace(sectionText(obj["body"])),
	}
	if draft.Body == "" {
		return EmailDraft{}, fmt.Errorf("notes: patient summary had no body: %w", ErrEmptyNote)
	}
	if draft.Subject == "" {
		draft.Subject = "Summary of your recent visit"
	}
	return draft, nil
}

// orderedKeys returns the template's keys first, then any extra keys the
// caller added, in a stable order.
func (n Note) orderedKeys() []string {
	seen := map[string]bool{}
	var keys []string
	if def, ok := templates[n.Template]; ok {
		for _, k := range def.sections {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	var extra []string
	for k := range n.Sections {
		if !seen[k] {
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)
	return append(keys, extra...)
}
