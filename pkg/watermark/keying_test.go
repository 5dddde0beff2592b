package watermark

import (
	"regexp"
	"testing"

	"github.com/CodeTease/wmcache/pkg/settings"
)

func acme() settings.Snapshot {
	s := settings.Default()
	s.Enabled = true
	s.Text = "ACME"
	return s
}

func TestDerivativePath(t *testing.T) {
	s := acme()

	tests := []struct {
		original string
		pattern  string
	}{
		{"products/shoe.jpg", `^products/cache/shoe_[0-9a-f]{8}\.jpg$`},
		{"products/2024/05/bag.png", `^products/2024/05/cache/bag_[0-9a-f]{8}\.png$`},
		{"top.webp", `^cache/top_[0-9a-f]{8}\.webp$`},
		{"products/my.photo.jpeg", `^products/cache/my\.photo_[0-9a-f]{8}\.jpeg$`},
	}

	for _, tt := range tests {
		t.Run(tt.original, func(t *testing.T) {
			got := DerivativePath(tt.original, s)
			if !regexp.MustCompile(tt.pattern).MatchString(got) {
				t.Errorf("DerivativePath(%q) = %q, want match for %s", tt.original, got, tt.pattern)
			}
			if again := DerivativePath(tt.original, s); again != got {
				t.Errorf("DerivativePath not stable: %q then %q", got, again)
			}
		})
	}
}

func TestSettingsHash(t *testing.T) {
	base := acme()

	disabled := base
	disabled.Enabled = false
	if SettingsHash(base) != SettingsHash(disabled) {
		t.Error("Enabled changed the settings hash")
	}

	tests := []struct {
		name   string
		mutate func(*settings.Snapshot)
	}{
		{"text", func(s *settings.Snapshot) { s.Text = "ACME Corp" }},
		{"opacity", func(s *settings.Snapshot) { s.Opacity = 70 }},
		{"position", func(s *settings.Snapshot) { s.Position = settings.TopLeft }},
		{"text size", func(s *settings.Snapshot) { s.TextSize = settings.Large }},
		{"logo", func(s *settings.Snapshot) { s.LogoPath = "brand/logo.png" }},
		{"logo size", func(s *settings.Snapshot) { s.LogoSize = settings.Small }},
		{"text color", func(s *settings.Snapshot) { s.TextColor = settings.RGB{R: 255} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			changed := base
			tt.mutate(&changed)
			if SettingsHash(changed) == SettingsHash(base) {
				t.Errorf("changing %s kept the settings hash", tt.name)
			}
		})
	}
}

func TestIsDerivative(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"products/shoe.jpg", false},
		{"products/cache/shoe_0123abcd.jpg", true},
		{"cache/top_0123abcd.jpg", true},
		{"products/cache/sub/shoe.jpg", false},
		{"products/cachet/shoe.jpg", false},
	}
	for _, tt := range tests {
		if got := IsDerivative(tt.path); got != tt.want {
			t.Errorf("IsDerivative(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestIsImage(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"a.jpg", true},
		{"a.JPEG", true},
		{"a.png", true},
		{"a.webp", true},
		{"a.txt", false},
		{"README", false},
	}
	for _, tt := range tests {
		if got := IsImage(tt.path); got != tt.want {
			t.Errorf("IsImage(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestResolve(t *testing.T) {
	base := acme()
	got := Resolve(base, WithPosition(settings.TopLeft), WithOpacity(150), WithText("Preview"))

	if got.Position != settings.TopLeft || got.Opacity != settings.MaxOpacity || got.Text != "Preview" {
		t.Errorf("Resolve() = %+v", got)
	}
	if base.Position != settings.BottomRight || base.Text != "ACME" {
		t.Errorf("Resolve() mutated its input: %+v", base)
	}
}
