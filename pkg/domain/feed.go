package domain

import "time"

// ParsedFeed represents a fetched and parsed RSS/Atom feed
type ParsedFeed struct {
	Title       string
	Description string
	Link        string
	Items       []ParsedItem
}

// ParsedItem represents a single entry of a parsed feed
type ParsedItem struct {
	GUID        string
	Title       string
	Link        string
	Description string
	Content     string
	Author      string
	Categories  []string
	Published   time.Time
}

// Body returns the richest text available for the item
func (i *ParsedItem) Body() string {
	if i.Content != "" {
		return i.Content
	}
	return i.Description
}
