package export

import (
	"context"
	"fmt"
)

// Service renders profile digests to PDF.
type Service struct{}

// NewService creates an export service.
func NewService() *Service {
	return &Service{}
}

// Export renders the digest and produces a PDF. The context bounds the
// overall request; Chrome has its own internal timeout on top.
func (s *Service) Export(ctx context.Context, digest Digest) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	html, err := RenderDigestHTML(digest)
	if err != nil {
		return nil, fmt.Errorf("render digest: %w", err)
	}

	return exportPDF(html, digest.ProfileName)
}
