package watermark

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"path"
	"strings"

	"github.com/CodeTease/wmcache/pkg/settings"
)

// CacheDirName is the directory, next to each original, holding its
// derivatives.
const CacheDirName = "cache"

// hashLen is the number of hex characters of the settings hash kept in
// derivative file names.
const hashLen = 8

// SettingsHash fingerprints the visual subset of s. Enabled is not part of
// it, nor is anything else the renderer ignores.
func SettingsHash(s settings.Snapshot) string {
	// Marshalling a struct is deterministic: fields in declaration order.
	payload, _ := json.Marshal(s.Visual())
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])[:hashLen]
}

// DerivativePath maps an original to {dir}/cache/{stem}_{hash8}{ext}.
func DerivativePath(original string, s settings.Snapshot) string {
	dir, base := path.Split(path.Clean(original))
	ext := path.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	return path.Join(dir, CacheDirName, stem+"_"+SettingsHash(s)+ext)
}

// IsDerivative reports whether p sits in a derivative cache directory.
func IsDerivative(p string) bool {
	return path.Base(path.Dir(path.Clean(p))) == CacheDirName
}

var imageExts = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true,
	".webp": true, ".avif": true, ".bmp": true, ".tif": true, ".tiff": true,
}

// IsImage reports whether p has an extension the compositor can encode.
func IsImage(p string) bool {
	return imageExts[strings.ToLower(path.Ext(p))]
}
