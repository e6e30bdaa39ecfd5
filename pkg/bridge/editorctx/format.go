package editorctx

import (
	"fmt"
	"strings"
)

// FormatForModel renders the selection as a bracketed context block. Line
// numbers are converted from the editor's zero-indexed positions to the
// 1-indexed form the model is prompted to speak about.
func (s Selection) FormatForModel() string {
	parts := []string{
		"[SELECTION CONTEXT - The user has selected this code and wants to discuss it]",
		fmt.Sprintf("File: %s (%s)", orUnknown(s.Data.FileName), orUnknown(s.Data.LanguageID)),
		fmt.Sprintf("Selection: lines %d-%d", s.Data.Selection.Start.Line+1, s.Data.Selection.End.Line+1),
	}
	if text := s.Data.Selection.Text; text != "" {
		parts = append(parts, fmt.Sprintf("\n--- SELECTED CODE ---\n%s\n--- END SELECTION ---", text))
	}
	parts = append(parts, "[END SELECTION CONTEXT]")
	return strings.Join(parts, "\n")
}

func (t Tree) FormatForModel() string {
	parts := []string{"[WORKSPACE TREE - Directory structure of the user's project]"}
	for _, root := range t.Data.Roots {
		name := root.Name
		if name == "" {
			name = "workspace"
		}
		parts = append(parts, fmt.Sprintf("\n--- %s ---\n%s", name, root.Tree))
	}
	parts = append(parts, "[END WORKSPACE TREE]")
	return strings.Join(parts, "\n")
}

func (l Legacy) FormatForModel() string {
	parts := []string{
		"[EDITOR CONTEXT - Use this to answer questions about the user's current code]",
		fmt.Sprintf("File: %s (%s)", orUnknown(l.Data.FileName), orUnknown(l.Data.LanguageID)),
	}

	if cursor := l.Data.Cursor; cursor != nil {
		parts = append(parts, fmt.Sprintf("Cursor at line %d, column %d", cursor.Line+1, cursor.Character+1))
	}

	if sel := l.Data.Selection; sel != nil && sel.Text != "" {
		parts = append(parts, fmt.Sprintf("\n--- SELECTED CODE ---\n%s\n--- END SELECTION ---", truncate(sel.Text, legacySelectionMax)))
	}

	if snippet := l.Data.Snippet; snippet != nil && snippet.Text != "" {
		parts = append(parts, fmt.Sprintf("\n--- CODE SNIPPET (lines %d-%d) ---\n%s\n--- END SNIPPET ---",
			snippet.StartLine, snippet.EndLine, snippet.Text))
	}

	if diff := l.Data.GitDiff; diff != "" {
		parts = append(parts, fmt.Sprintf("\n--- GIT DIFF ---\n%s\n--- END DIFF ---", truncate(diff, legacyGitDiffMax)))
	}

	parts = append(parts, "[END EDITOR CONTEXT]")
	return strings.Join(parts, "\n")
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return "unknown"
	}
	return s
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "... (truncated)"
}
