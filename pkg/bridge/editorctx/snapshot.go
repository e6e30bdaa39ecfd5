// Package editorctx tracks the latest editor-reported context (a code
// selection, a workspace tree, or the legacy editor state) and owns the
// inject-once-per-turn policy that surfaces it to the model.
package editorctx

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"

	"github.com/voxide-dev/voxide/pkg/bridge/protocol"
)

// Bounded prefix lengths for fingerprint and formatting inputs. Large text
// fields are truncated before hashing so pathological selections stay cheap.
const (
	selectionHashPrefix = 500
	treeHashPrefix      = 2000
	snippetHashPrefix   = 2000
	legacySelectionMax  = 500
	legacyGitDiffMax    = 1000
)

// Snapshot is one editor context variant. Fingerprints cover only the
// semantically relevant fields, so representational noise (cursor jitter,
// unrelated metadata) does not defeat deduplication.
type Snapshot interface {
	Kind() string
	Fingerprint() string
	FormatForModel() string
}

// Selection is an explicit code selection the user wants to discuss.
type Selection struct {
	Data protocol.SelectionData
}

func (Selection) Kind() string { return "selection" }

func (s Selection) Fingerprint() string {
	return fingerprint(struct {
		Type          string `json:"type"`
		FileName      string `json:"fileName"`
		SelectionText string `json:"selectionText"`
	}{
		Type:          "selection",
		FileName:      s.Data.FileName,
		SelectionText: prefix(s.Data.Selection.Text, selectionHashPrefix),
	})
}

// Tree is a workspace directory-structure snapshot.
type Tree struct {
	Data protocol.TreeData
}

func (Tree) Kind() string { return "tree" }

func (t Tree) Fingerprint() string {
	serialized, err := json.Marshal(t.Data)
	if err != nil {
		serialized = nil
	}
	return fingerprint(prefix(string(serialized), treeHashPrefix))
}

// Legacy is the older editor_context format with cursor, selection, snippet
// and git diff.
type Legacy struct {
	Data protocol.LegacyEditorData
}

func (Legacy) Kind() string { return "editor_context" }

func (l Legacy) Fingerprint() string {
	var selText, snippetText *string
	if l.Data.Selection != nil {
		s := prefix(l.Data.Selection.Text, selectionHashPrefix)
		selText = &s
	}
	if l.Data.Snippet != nil {
		s := prefix(l.Data.Snippet.Text, snippetHashPrefix)
		snippetText = &s
	}
	return fingerprint(struct {
		FileName  string                      `json:"fileName"`
		Cursor    *protocol.SelectionPosition `json:"cursor"`
		Selection *string                     `json:"selection"`
		Snippet   *string                     `json:"snippet"`
	}{
		FileName:  l.Data.FileName,
		Cursor:    l.Data.Cursor,
		Selection: selText,
		Snippet:   snippetText,
	})
}

// fingerprint hashes the canonical JSON of v and keeps a 16-character prefix.
// Struct field order fixes the key order, so equal semantic content always
// produces equal fingerprints.
func fingerprint(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		data = nil
	}
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])[:16]
}

func prefix(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
