// Package canned matches incoming messages against fixed keyword
// tables and returns pre-written replies, short-circuiting the AI
// path for questions with known answers.
package canned

import "strings"

// Entry is one canned reply with the keywords that trigger it.
type Entry struct {
	Name     string
	Keywords []string
	Reply    string
}

// Table holds canned replies in match order. Earlier entries win.
type Table struct {
	entries []Entry
}

// Defaults returns the built-in replies about the bot itself.
func Defaults() []Entry {
	return []Entry{
		{
			Name: "creator",
			Keywords: []string{
				"who made you",
				"who created you",
				"who built you",
				"your creator",
				"your author",
				"who is your developer",
			},
			Reply: "I was built by the Parley project team. I relay your messages to an AI model and bring back its answers.",
		},
		{
			Name: "repository",
			Keywords: []string{
				"source code",
				"github",
				"repository",
				"open source",
			},
			Reply: "My source code lives at https://github.com/parleyhq/parley.",
		},
	}
}

// NewTable builds a table from the built-in defaults followed by any
// extra entries from configuration. Entries with no keywords or an
// empty reply are dropped.
func NewTable(extra []Entry) *Table {
	t := &Table{}
	for _, e := range append(Defaults(), extra...) {
		if len(e.Keywords) == 0 || e.Reply == "" {
			continue
		}
		t.entries = append(t.entries, e)
	}
	return t
}

// Len returns the number of active entries.
func (t *Table) Len() int { return len(t.entries) }

// Match returns the reply for the first entry whose keyword appears in
// text. Matching is case-insensitive substring containment.
func (t *Table) Match(text string) (string, bool) {
	lowered := strings.ToLower(text)
	for _, e := range t.entries {
		for _, kw := range e.Keywords {
			if kw != "" && strings.Contains(lowered, strings.ToLower(kw)) {
				return e.Reply, true
			}
		}
	}
	return "", false
}
