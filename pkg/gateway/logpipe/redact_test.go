package logpipe

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestRedactImages(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantChange bool
	}{
		{
			name:       "https URL kept",
			body:       `{"messages":[{"content":[{"type":"image_url","image_url":{"url":"https://example.com/cat.png"}}]}]}`,
			wantChange: false,
		},
		{
			name:       "asset id kept",
			body:       `{"content":[{"type":"image_url","image_url":{"url":"<gateway-asset-id-123e4567-e89b-12d3-a456-426614174000>"}}]}`,
			wantChange: false,
		},
		{
			name:       "data URL redacted",
			body:       `{"content":[{"type":"image_url","image_url":{"url":"data:image/png;base64,iVBOR"}}]}`,
			wantChange: true,
		},
		{
			name:       "bare string reference redacted",
			body:       `{"image_url":"data:image/jpeg;base64,/9j/4A"}`,
			wantChange: true,
		},
		{
			name:       "no image content untouched",
			body:       `{"model":"gpt-4o","messages":[{"role":"user","content":"hi"}]}`,
			wantChange: false,
		},
		{
			name:       "non-JSON untouched",
			body:       "image_url: not json at all",
			wantChange: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RedactImages(tt.body)
			if !tt.wantChange {
				if got != tt.body {
					t.Errorf("body changed: %q -> %q", tt.body, got)
				}
				return
			}
			if got == tt.body {
				t.Fatal("body not redacted")
			}
			if !strings.Contains(got, "unsupported_image") {
				t.Errorf("redacted body %q missing marker", got)
			}
			if strings.Contains(got, "base64") {
				t.Errorf("redacted body %q still carries inline data", got)
			}
		})
	}
}

func TestRedactImages_DeepNesting(t *testing.T) {
	body := `{"messages":[{"content":[{"type":"text","text":"look"},{"type":"image_url","image_url":{"url":"data:image/png;base64,AAAA"}},{"type":"image_url","image_url":{"url":"https://ok.example/img.png"}}]}]}`

	got := RedactImages(body)

	var doc map[string]any
	if err := json.Unmarshal([]byte(got), &doc); err != nil {
		t.Fatalf("redacted body is not valid JSON: %v", err)
	}
	if !strings.Contains(got, "unsupported_image") {
		t.Error("inline data URL survived")
	}
	if !strings.Contains(got, "https://ok.example/img.png") {
		t.Error("allowed URL was removed")
	}
}
