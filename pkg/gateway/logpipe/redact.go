package logpipe

import (
	"encoding/json"
	"regexp"
	"strings"
)

// assetIDPattern matches the internal placeholder a consumer later
// swaps for the archived asset.
var assetIDPattern = regexp.MustCompile(`^<gateway-asset-id-[0-9a-fA-F-]+>$`)

// unsupportedImage replaces an inline image reference that can
// neither be fetched (http/https) nor resolved from the asset store.
var unsupportedImage = map[string]any{"unsupported_image": true}

// RedactImages rewrites body so that every inline image reference
// that is neither an http(s) URL nor an asset-id placeholder becomes
// a fixed "unsupported" marker, recursively through arrays and
// objects. Non-JSON bodies and bodies without image content are
// returned unchanged.
func RedactImages(body string) string {
	if !strings.Contains(body, "image_url") {
		return body
	}

	var doc any
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return body
	}

	if !redactValue(doc) {
		return body
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return body
	}
	return string(out)
}

// redactValue walks the document and reports whether anything was
// replaced.
func redactValue(v any) bool {
	changed := false
	switch node := v.(type) {
	case map[string]any:
		for key, child := range node {
			if key == "image_url" && redactImageRef(node, key, child) {
				changed = true
				continue
			}
			if redactValue(child) {
				changed = true
			}
		}
	case []any:
		for _, child := range node {
			if redactValue(child) {
				changed = true
			}
		}
	}
	return changed
}

// redactImageRef handles the two shapes an image reference takes: a
// bare URL string, or an object carrying a "url" field.
func redactImageRef(parent map[string]any, key string, ref any) bool {
	switch image := ref.(type) {
	case string:
		if !allowedImageURL(image) {
			parent[key] = unsupportedImage
			return true
		}
	case map[string]any:
		if u, ok := image["url"].(string); ok && !allowedImageURL(u) {
			parent[key] = unsupportedImage
			return true
		}
		return redactValue(image)
	}
	return false
}

func allowedImageURL(u string) bool {
	if strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://") {
		return true
	}
	return assetIDPattern.MatchString(u)
}
