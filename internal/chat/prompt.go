package chat

import (
	"fmt"
	"time"
)

const formatInstruction = "Output:GitHubFlavoredMarkdown. No ```markdown``` fences. standard GFM for all elements, " +
	"no screenshots, use `##` for headings Use `\\n` for line breaks."

// FormatQuery wraps the user's input with the formatting instruction sent to the backend generator.
func FormatQuery(input string) string {
	return fmt.Sprintf("User query: %s\nFormat Instruction: %s", input, formatInstruction)
}

const welcomeBody = `

I'm SkyeGPT, your AI assistant.
Please feel free to ask me anything related to Skye, and I'll do my best to assist you.
What can I help you with today?

`

// Greeting returns the greeting matching the hour of t.
func Greeting(t time.Time) string {
	switch h := t.Hour(); {
	case h < 12:
		return "Good morning"
	case h < 17:
		return "Good afternoon"
	default:
		return "Good evening"
	}
}

// WelcomeText returns the text of the welcome message shown at session start.
func WelcomeText(t time.Time) string {
	return Greeting(t) + " 👋! " + welcomeBody
}
