// Package docs holds the articles printed by "patchr docs".
package docs

import (
	"fmt"
	"io"
	"strings"
)

// Topic is one article.
type Topic struct {
	Name    string
	Title   string
	Summary string
	Content string
	SeeAlso []string // names of related topics
}

// All returns every topic in display order.
func All() []Topic {
	return topics
}

// Get resolves a topic by exact name or by a prefix that matches one topic,
// so "pipe" finds "pipeline".
func Get(name string) (Topic, error) {
	return find(topics, name)
}

func find(list []Topic, name string) (Topic, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	var matches []string
	var match Topic
	for _, t := range list {
		if t.Name == name {
			return t, nil
		}
		if name != "" && strings.HasPrefix(t.Name, name) {
			matches = append(matches, t.Name)
			match = t
		}
	}
	switch len(matches) {
	case 0:
		return Topic{}, fmt.Errorf("unknown topic %q; run 'patchr docs' to list available topics", name)
	case 1:
		return match, nil
	}
	return Topic{}, fmt.Errorf("topic %q is ambiguous: %s", name, strings.Join(matches, ", "))
}

// WriteIndex prints the topic listing.
func WriteIndex(w io.Writer) {
	fmt.Fprint(w, "\nAvailable topics:\n\n")
	for _, t := range topics {
		fmt.Fprintf(w, "  %-14s %s\n", t.Name, t.Summary)
	}
	fmt.Fprintln(w, "\nRun 'patchr docs <topic>' to read a topic. A unique prefix is enough.")
}

// Write prints a topic followed by its related topics.
func Write(w io.Writer, t Topic) {
	fmt.Fprint(w, t.Content)
	if len(t.SeeAlso) == 0 {
		return
	}
	fmt.Fprintf(w, "\nSee also: %s\n", strings.Join(t.SeeAlso, ", "))
}
