// Package prompts assembles the system and user messages for each study
// operation. Injected course material is capped by a token budget so a large
// library cannot blow past the model's context window.
package prompts

import (
	"fmt"
	"strings"
)

const defaultMaxContextTokens = 24000

// Prompt is a ready-to-send pair of messages.
type Prompt struct {
	System string
	User   string
}

// Builder produces prompts with a shared context budget.
type Builder struct {
	MaxContextTokens int
}

// New creates a Builder. If maxContextTokens <= 0, the default is used.
func New(maxContextTokens int) *Builder {
	if maxContextTokens <= 0 {
		maxContextTokens = defaultMaxContextTokens
	}
	return &Builder{MaxContextTokens: maxContextTokens}
}

const tutorSystem = "You are a patient study tutor. Answer strictly from the " +
	"provided course material. When the material does not cover the question, " +
	"say so instead of guessing."

// Ask builds the prompt for a direct question over the aggregated material.
func (b *Builder) Ask(question, material string) Prompt {
	return Prompt{
		System: tutorSystem,
		User: "Course material:\n" + b.capped(material) +
			"\n\nQuestion: " + question,
	}
}

// Chat builds the prompt for a history-bearing conversation turn. History is
// included verbatim ahead of the new question and shares the context budget
// with the material.
func (b *Builder) Chat(question, material string, history []string) Prompt {
	var sb strings.Builder
	sb.WriteString("Course material:\n")
	sb.WriteString(b.capped(material))
	if len(history) > 0 {
		sb.WriteString("\n\nConversation so far:\n")
		sb.WriteString(strings.Join(history, "\n"))
	}
	sb.WriteString("\n\nQuestion: ")
	sb.WriteString(question)
	return Prompt{System: tutorSystem, User: sb.String()}
}

// ExtractAll builds the prompt for a structured summary of every file.
func (b *Builder) ExtractAll(material string) Prompt {
	return Prompt{
		System: tutorSystem,
		User: "Summarize the following course material as a structured study " +
			"guide. Use one section per source file, keeping the file headers, " +
			"and list the key concepts, definitions, and likely exam points " +
			"under each.\n\n" + b.capped(material),
	}
}

const quizSystem = "You are an exam writer. Produce quiz questions strictly " +
	"from the provided material. Number the questions and put the answer key " +
	"at the end under an 'Answers' heading."

// Quiz builds the prompt for a quiz over the given material, which may be
// the whole library, a selection, or a single file.
func (b *Builder) Quiz(material string) Prompt {
	return Prompt{
		System: quizSystem,
		User: "Write 10 quiz questions covering this material. Mix recall " +
			"and application questions.\n\n" + b.capped(material),
	}
}

// QuizWeakness builds a quiz that targets the topics behind the user's
// recorded mistakes.
func (b *Builder) QuizWeakness(material string, notes []string) Prompt {
	return Prompt{
		System: quizSystem,
		User: "These are the student's past mistakes:\n" +
			bulleted(notes) +
			"\nWrite 10 quiz questions from the material below that drill " +
			"the same topics from new angles.\n\n" + b.capped(material),
	}
}

// Grade builds the prompt for grading submitted answers against a quiz.
func (b *Builder) Grade(quiz, answers string) Prompt {
	return Prompt{
		System: "You are a strict but encouraging grader. Grade each answer " +
			"against the quiz's answer key, explain every mistake, and finish " +
			"with a score line in the form 'Score: N/M'.",
		User: "Quiz:\n" + quiz + "\n\nStudent answers:\n" + answers,
	}
}

// AnalyzeWeakness builds the prompt for a study-plan analysis of the
// recorded mistakes.
func (b *Builder) AnalyzeWeakness(notes []string) Prompt {
	return Prompt{
		System: tutorSystem,
		User: "These are the student's recorded mistakes and notes:\n" +
			bulleted(notes) +
			"\nGroup them into weak topics, explain the likely misconception " +
			"behind each group, and suggest what to review next.",
	}
}

// Correlation builds the prompt for a cross-file concept map.
func (b *Builder) Correlation(material string) Prompt {
	return Prompt{
		System: tutorSystem,
		User: "Build a concept map connecting the files below. Output a " +
			"Mermaid mindmap diagram first, then a short explanation of each " +
			"cross-file link.\n\n" + b.capped(material),
	}
}

// capped truncates material to the token budget, cutting at a line boundary
// when one is near so a file section is not sliced mid-sentence.
func (b *Builder) capped(material string) string {
	limit := b.MaxContextTokens * 4
	if len(material) <= limit {
		return material
	}
	cut := material[:limit]
	if i := strings.LastIndexByte(cut, '\n'); i > limit/2 {
		cut = cut[:i]
	}
	return cut + "\n[material truncated]"
}

func bulleted(items []string) string {
	var sb strings.Builder
	for _, it := range items {
		fmt.Fprintf(&sb, "- %s\n", it)
	}
	return sb.String()
}

// EstimateTokens provides a rough token count using 4 chars per token heuristic.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}
