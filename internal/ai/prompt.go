package ai

import "fmt"

// PromptVersion identifies the prompt template below
const PromptVersion = "rca-v1"

// BuildPrompt wraps a serialized evidence summary in the root-cause prompt
func BuildPrompt(evidence string) string {
	return fmt.Sprintf(`You are an expert debugger. Analyze this log evidence and determine the root cause.
Return a JSON object with: root_cause (string), chain (array of exception types in order), severity (low|medium|high|critical), suggested_fix (string).

Evidence:
%s

Respond with only valid JSON.`, evidence)
}
