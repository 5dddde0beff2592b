package watermark

import "github.com/CodeTease/wmcache/pkg/settings"

// Option overrides one field of the current settings for a single call.
type Option func(*settings.Snapshot)

func WithPosition(p settings.Position) Option {
	return func(s *settings.Snapshot) { s.Position = p }
}

func WithOpacity(percent int) Option {
	return func(s *settings.Snapshot) { s.Opacity = settings.ClampOpacity(percent) }
}

func WithText(text string) Option {
	return func(s *settings.Snapshot) { s.Text = text }
}

func WithTextColor(c settings.RGB) Option {
	return func(s *settings.Snapshot) { s.TextColor = c }
}

// Resolve applies opts to a copy of s.
func Resolve(s settings.Snapshot, opts ...Option) settings.Snapshot {
	for _, opt := range opts {
		opt(&s)
	}
	return s
}
