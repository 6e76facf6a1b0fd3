package engine

import "strings"

// ChatPrompt wraps a single user turn in the minimal template used when the
// model ships without one.
func ChatPrompt(user string) string {
	return "User: " + strings.TrimSpace(user) + "\nAssistant:"
}
