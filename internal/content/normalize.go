package content

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

const derivedTitleLimit = 80

// textPolicy strips all markup from user-supplied text before it is stored.
var textPolicy = bluemonday.StrictPolicy()

// Normalize converts a raw content record into a fully defaulted Item. It is
// the single source of truth for per-type defaults: no other component may
// inline one. Garbage input degrades to empty-but-valid fields; Normalize
// never fails.
func Normalize(raw map[string]any, typ ItemType) Item {
	item := Item{
		Type:      typ,
		ID:        stringField(raw, "id"),
		Title:     cleanText(stringField(raw, "title")),
		Text:      cleanText(stringField(raw, "text")),
		CreatedAt: stringField(raw, "createdAt"),
		Author:    stringField(raw, "author"),
		Images:    stringListField(raw, "images"),
		Tags:      tagSet(stringListField(raw, "tags")),
		Comments:  commentList(raw["comments"]),
		Reactions: reactionMap(raw["reactions"]),
	}

	if item.Title == "" {
		item.Title = deriveTitle(item.Text)
	}

	switch typ {
	case TypeUpdate:
		item.ShowInUpdatesFeed, item.feedFlagSet = boolField(raw, "showInUpdatesFeed", true)
	case TypeFunding:
		// Funding needs never surface in the general feed.
		item.ShowInUpdatesFeed = false
		item.TargetAmount = numberField(raw, "targetAmount")
		if item.TargetAmount > 0 {
			item.Currency = strings.ToUpper(strings.TrimSpace(stringField(raw, "currency")))
		}
	case TypePrayer:
		item.ShowInUpdatesFeed, item.feedFlagSet = boolField(raw, "showInUpdatesFeed", false)
		item.CommentStatus = normalizeCommentStatus(stringField(raw, "commentStatus"))
	}

	return item
}

// NormalizeCommentStatus maps any input to a valid status, defaulting to "on".
func normalizeCommentStatus(raw string) CommentStatus {
	switch CommentStatus(strings.ToLower(strings.TrimSpace(raw))) {
	case CommentsFreeze:
		return CommentsFreeze
	case CommentsOff:
		return CommentsOff
	default:
		return CommentsOn
	}
}

// ValidCommentStatus reports whether raw names one of the three statuses.
func ValidCommentStatus(raw string) bool {
	switch CommentStatus(strings.ToLower(strings.TrimSpace(raw))) {
	case CommentsOn, CommentsFreeze, CommentsOff:
		return true
	}
	return false
}

func cleanText(value string) string {
	return strings.TrimSpace(textPolicy.Sanitize(value))
}

// deriveTitle takes the first line of text, truncated to 80 runes.
func deriveTitle(text string) string {
	line := text
	if idx := strings.IndexByte(line, '\n'); idx >= 0 {
		line = line[:idx]
	}
	line = strings.TrimSpace(line)
	runes := []rune(line)
	if len(runes) > derivedTitleLimit {
		return string(runes[:derivedTitleLimit])
	}
	return line
}

func stringField(raw map[string]any, key string) string {
	value, _ := raw[key].(string)
	return value
}

// boolField also reports whether the key held a real boolean, so callers can
// distinguish an explicit value from the fallback.
func boolField(raw map[string]any, key string, fallback bool) (bool, bool) {
	if value, ok := raw[key].(bool); ok {
		return value, true
	}
	return fallback, false
}

func numberField(raw map[string]any, key string) float64 {
	switch value := raw[key].(type) {
	case float64:
		if value > 0 {
			return value
		}
	case int:
		if value > 0 {
			return float64(value)
		}
	}
	return 0
}

func stringListField(raw map[string]any, key string) []string {
	out := []string{}
	switch value := raw[key].(type) {
	case []string:
		out = append(out, value...)
	case []any:
		for _, entry := range value {
			if s, ok := entry.(string); ok {
				out = append(out, s)
			}
		}
	}
	return out
}

func tagSet(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := []string{}
	for _, tag := range tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" {
			continue
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out
}

func commentList(raw any) []Comment {
	out := []Comment{}
	entries, ok := raw.([]any)
	if !ok {
		return out
	}
	for _, entry := range entries {
		fields, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		out = append(out, Comment{
			ID:        stringField(fields, "id"),
			Text:      cleanText(stringField(fields, "text")),
			Author:    stringField(fields, "author"),
			CreatedAt: stringField(fields, "createdAt"),
		})
	}
	return out
}

func reactionMap(raw any) map[string][]string {
	out := map[string][]string{}
	fields, ok := raw.(map[string]any)
	if !ok {
		return out
	}
	for kind, entry := range fields {
		users, ok := entry.([]any)
		if !ok {
			continue
		}
		ids := []string{}
		for _, user := range users {
			if s, ok := user.(string); ok {
				ids = append(ids, s)
			}
		}
		out[kind] = ids
	}
	return out
}
