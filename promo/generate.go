package promo

import "context"

// GenerateOptions tunes drafted promotional copy.
type GenerateOptions struct {
	Platform string
	MaxLen   int
	Tone     string
}

// TextGenerator drafts promotional copy for a content item. Implementations
// wrap an external drafting service; a failure degrades to the fallback
// composition in ResolveText and never blocks posting.
type TextGenerator interface {
	GenerateText(ctx context.Context, item *ContentItem, opts GenerateOptions) (string, error)
}

// NopGenerator never drafts anything, leaving composition to overrides and
// the title fallback.
type NopGenerator struct{}

func (NopGenerator) GenerateText(context.Context, *ContentItem, GenerateOptions) (string, error) {
	return "", nil
}
