// Package content holds the unified content model shared by updates, prayer
// requests, and funding needs, plus the feed merge and sanitize logic.
package content

import "encoding/json"

type ItemType string

const (
	TypeUpdate  ItemType = "update"
	TypePrayer  ItemType = "prayer"
	TypeFunding ItemType = "funding"
)

// CommentStatus controls commenting on a prayer request. "off" is destructive:
// existing comments are cleared when the status is applied.
type CommentStatus string

const (
	CommentsOn     CommentStatus = "on"
	CommentsFreeze CommentStatus = "freeze"
	CommentsOff    CommentStatus = "off"
)

type Comment struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	Author    string `json:"author"`
	CreatedAt string `json:"createdAt"`
}

// Item is the tagged-variant content record. Reactions are itemized per
// reaction kind so a second identical reaction by the same account toggles the
// first one off. Extra carries fields this build does not know about; they
// survive a load/merge/save round trip untouched.
type Item struct {
	ID                string              `json:"id"`
	Type              ItemType            `json:"type"`
	Title             string              `json:"title,omitempty"`
	Text              string              `json:"text,omitempty"`
	Images            []string            `json:"images"`
	CreatedAt         string              `json:"createdAt,omitempty"`
	Author            string              `json:"author,omitempty"`
	Tags              []string            `json:"tags"`
	Reactions         map[string][]string `json:"reactions"`
	Comments          []Comment           `json:"comments"`
	ShowInUpdatesFeed bool                `json:"showInUpdatesFeed"`

	// Funding needs only.
	TargetAmount float64 `json:"targetAmount,omitempty"`
	Currency     string  `json:"currency,omitempty"`

	// Prayer requests only.
	CommentStatus CommentStatus `json:"commentStatus,omitempty"`

	Extra map[string]any `json:"-"`

	// feedFlagSet records that showInUpdatesFeed was present in the source
	// document, so an explicit false is not mistaken for an unset default
	// when the feed is rebuilt.
	feedFlagSet bool
}

// HasTag reports whether the item carries the given (lowercase) tag.
func (it Item) HasTag(tag string) bool {
	for _, t := range it.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// knownItemKeys are the JSON keys owned by Item itself; everything else read
// from a stored document lands in Extra.
var knownItemKeys = map[string]struct{}{
	"id": {}, "type": {}, "title": {}, "text": {}, "images": {},
	"createdAt": {}, "author": {}, "tags": {}, "reactions": {},
	"comments": {}, "showInUpdatesFeed": {}, "targetAmount": {},
	"currency": {}, "commentStatus": {},
}

type itemAlias Item

func (it *Item) UnmarshalJSON(data []byte) error {
	var alias itemAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for key, value := range raw {
		if _, known := knownItemKeys[key]; known {
			continue
		}
		var decoded any
		if err := json.Unmarshal(value, &decoded); err != nil {
			continue
		}
		if alias.Extra == nil {
			alias.Extra = make(map[string]any)
		}
		alias.Extra[key] = decoded
	}
	if _, present := raw["showInUpdatesFeed"]; present {
		alias.feedFlagSet = true
	}
	*it = Item(alias)
	return nil
}

// MarshalJSON flattens Extra back into the object and passes the result
// through Sanitize, so no persisted item ever carries a null field the
// backing store would reject.
func (it Item) MarshalJSON() ([]byte, error) {
	encoded, err := json.Marshal(itemAlias(it))
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal(encoded, &doc); err != nil {
		return nil, err
	}
	for key, value := range it.Extra {
		if _, known := knownItemKeys[key]; known {
			continue
		}
		doc[key] = value
	}
	return json.Marshal(Sanitize(doc))
}
