package content

// Sanitize recursively removes map keys whose value is nil. The backing store
// rejects explicit null sentinels inside stored documents, so every structure
// passes through here immediately before persistence. Slices keep their
// length and order; primitives pass through unchanged. Pure and total.
func Sanitize(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(typed))
		for key, entry := range typed {
			if entry == nil {
				continue
			}
			out[key] = Sanitize(entry)
		}
		return out
	case []any:
		out := make([]any, len(typed))
		for i, entry := range typed {
			out[i] = Sanitize(entry)
		}
		return out
	default:
		return value
	}
}
