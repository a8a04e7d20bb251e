/*
 * Copyright (c) 2023-2025, Caldera Data, Inc. All rights reserved.
 */
package rec

import jsoniter "github.com/json-iterator/go"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Minimal is the fast-path projection of a Reddit comment or submission:
// only the fields the engine's operations actually consume. Unknown JSON
// fields are ignored, never an error.
type Minimal struct {
	Subreddit  *string `json:"subreddit"`
	Author     *string `json:"author"`
	ID         *string `json:"id"`
	ParentID   *string `json:"parent_id"`
	LinkID     *string `json:"link_id"`
	Body       *string `json:"body"`
	Title      *string `json:"title"`
	Selftext   *string `json:"selftext"`
	Domain     *string `json:"domain"`
	Score      *int64  `json:"score"`
	CreatedUTC *int64  `json:"created_utc"`
}

// ParseMinimal projects a raw JSONL line into Minimal without building a
// generic map, the fast path used by every operation that doesn't need a
// JSON-pointer or closure key extractor over the full record.
func ParseMinimal(line string) (Minimal, error) {
	var m Minimal
	if err := json.UnmarshalFromString(line, &m); err != nil {
		return Minimal{}, err
	}
	return m, nil
}

// ParseFull decodes a raw JSONL line into a generic value, used only when a
// query or key extractor needs fields outside the minimal projection.
func ParseFull(line string) (map[string]any, error) {
	var v map[string]any
	if err := json.UnmarshalFromString(line, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func (m Minimal) GetString(field string) (string, bool) {
	var p *string
	switch field {
	case "subreddit":
		p = m.Subreddit
	case "author":
		p = m.Author
	case "id":
		p = m.ID
	case "parent_id":
		p = m.ParentID
	case "link_id":
		p = m.LinkID
	case "body":
		p = m.Body
	case "title":
		p = m.Title
	case "selftext":
		p = m.Selftext
	case "domain":
		p = m.Domain
	}
	if p == nil {
		return "", false
	}
	return *p, true
}
