// ABOUTME: Behavior-profile generation from an operator's free-form bot description
// ABOUTME: One meta-call at a higher temperature; the returned text is treated as opaque

package llm

import (
	"context"
	"fmt"

	"github.com/2389/botfactory/internal/conversation"
)

// profileTemperature is used for profile generation, slightly more creative
// than regular replies.
const profileTemperature = float32(0.8)

const profileTemplate = `You are an expert at writing system prompts for chat bots. ` +
	`A user has described what their bot should be like. ` +
	`Write a detailed system prompt in English that defines:
1. The bot's personality and character
2. Its communication style and tone
3. Its main functions and capabilities
4. Its limitations and rules of behavior

User description: %s

Write the system prompt (150-300 words):`

// ProfilePrompt wraps description in the fixed meta-prompt.
func ProfilePrompt(description string) string {
	return fmt.Sprintf(profileTemplate, description)
}

// GenerateProfile asks the gateway to turn description into a behavior
// profile. On success Result.Text is the raw profile.
func (c *Client) GenerateProfile(ctx context.Context, description string) Result {
	history := []conversation.Turn{conversation.UserTurn(ProfilePrompt(description))}
	return c.Complete(ctx, history, "", WithModel(DefaultModel), WithTemperature(profileTemperature))
}
