package engine

import (
	"fmt"
	"os"
	"strings"

	"github.com/harrison/ralph-ultra/internal/models"
)

// basePrinciples are the coding principles prefixed to every fresh
// attempt, ahead of any user-customized principles.
const basePrinciples = `## Coding principles

- DRY: search for existing implementations before writing new code.
- Work in small, verifiable steps; commit working states.
- Crash early: validate inputs at boundaries, fail loudly on bad state.
- Law of Demeter: talk to your immediate collaborators only.
- Match the existing patterns, naming, and style of this codebase.
- Before coding, read the relevant files and form a short plan.`

// implementationInstructions close the fresh prompt.
const implementationInstructions = `## Instructions

Implement this user story completely. Make the acceptance criteria pass:
run each test command yourself before finishing. Do not start work on any
other story. When everything passes, stop.`

// buildFreshPrompt assembles the full first-attempt prompt for a story.
func buildFreshPrompt(story *models.UserStory, userPrinciples string) string {
	var sb strings.Builder

	sb.WriteString(basePrinciples)
	sb.WriteString("\n")

	if userPrinciples != "" {
		sb.WriteString("\n## Project principles\n\n")
		sb.WriteString(userPrinciples)
		sb.WriteString("\n")
	}

	sb.WriteString("\n## User story\n\n")
	writeStoryBlock(&sb, story)

	sb.WriteString("\n")
	sb.WriteString(implementationInstructions)
	sb.WriteString("\n")
	return sb.String()
}

// buildResumePrompt assembles the shorter continuation prompt used when a
// paused or failed attempt is retried with session context.
func buildResumePrompt(story *models.UserStory, passingACs, failingACs []string) string {
	var sb strings.Builder

	sb.WriteString("Continue working on this user story. Previous progress is preserved.\n\n")
	writeStoryBlock(&sb, story)

	if len(passingACs) > 0 {
		sb.WriteString(fmt.Sprintf("\nAlready passing (do not touch): %s\n", strings.Join(passingACs, ", ")))
	}
	if len(failingACs) > 0 {
		sb.WriteString(fmt.Sprintf("Still failing: %s\n", strings.Join(failingACs, ", ")))
	}

	sb.WriteString("\nWork only on the failing acceptance criteria. Run their test commands to confirm before finishing.\n")
	return sb.String()
}

func writeStoryBlock(sb *strings.Builder, story *models.UserStory) {
	fmt.Fprintf(sb, "ID: %s\nTitle: %s\nComplexity: %s\n\n%s\n", story.ID, story.Title, story.Complexity, story.Description)

	sb.WriteString("\nAcceptance criteria:\n")
	if story.HasStructuredCriteria() {
		for _, ac := range story.AcceptanceCriteria {
			fmt.Fprintf(sb, "- [%s] %s", ac.ID, ac.Text)
			if ac.TestCommand != "" {
				fmt.Fprintf(sb, " (verify: %s)", ac.TestCommand)
			}
			sb.WriteString("\n")
		}
	} else {
		for _, text := range story.RawCriteria {
			fmt.Fprintf(sb, "- %s\n", text)
		}
	}
}

// writePromptFile writes a prompt to a unique temporary file and returns
// its path. The engine removes the file when the story attempt ends.
func writePromptFile(prompt string) (string, error) {
	file, err := os.CreateTemp("", "ralph-prompt-*.md")
	if err != nil {
		return "", fmt.Errorf("create prompt file: %w", err)
	}
	if _, err := file.WriteString(prompt); err != nil {
		file.Close()
		os.Remove(file.Name())
		return "", fmt.Errorf("write prompt file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(file.Name())
		return "", fmt.Errorf("close prompt file: %w", err)
	}
	return file.Name(), nil
}
