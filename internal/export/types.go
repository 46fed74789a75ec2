// Package export renders a profile digest as a downloadable PDF.
package export

import (
	"errors"
	"time"
)

// Digest is the pre-filtered snapshot of a profile that gets rendered. The
// caller decides which sections the viewer may see before building it.
type Digest struct {
	ProfileName string
	Kind        string
	GeneratedAt time.Time
	Sections    []DigestSection
}

// DigestSection groups items under one heading.
type DigestSection struct {
	Heading string
	Items   []DigestItem
}

// DigestItem is one rendered entry.
type DigestItem struct {
	Title        string
	Text         string
	Author       string
	CreatedAt    string
	Tags         []string
	TargetAmount float64
	Currency     string
	Comments     []DigestComment
}

// DigestComment is one rendered comment.
type DigestComment struct {
	Author string
	Text   string
}

// Result contains the export output.
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
var ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
