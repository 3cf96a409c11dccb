package headers

import (
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestParse_Defaults(t *testing.T) {
	h := Parse(http.Header{})

	if h.Auth != "" || h.UserID != "" || h.NodeID != "" {
		t.Error("expected empty identity fields")
	}
	if h.OmitRequest || h.OmitResponse {
		t.Error("omit flags should default to false")
	}
	if h.Retry.Enabled {
		t.Error("retry should default to disabled")
	}
	if _, err := uuid.Parse(h.RequestID); err != nil {
		t.Errorf("generated request id %q is not a UUID: %v", h.RequestID, err)
	}
}

func TestParse_RequestID(t *testing.T) {
	valid := "0b56ef86-733f-4b21-a0a9-7f69b2bba86f"

	hdr := http.Header{}
	hdr.Set(HeaderRequestID, valid)
	if got := Parse(hdr).RequestID; got != valid {
		t.Errorf("RequestID = %q, want %q", got, valid)
	}

	hdr.Set(HeaderRequestID, "not-a-uuid")
	got := Parse(hdr).RequestID
	if got == "not-a-uuid" {
		t.Error("malformed request id was not replaced")
	}
	if _, err := uuid.Parse(got); err != nil {
		t.Errorf("replacement id %q is not a UUID: %v", got, err)
	}
}

func TestParse_OmitFlags(t *testing.T) {
	hdr := http.Header{}
	hdr.Set(HeaderOmitRequest, "true")
	hdr.Set(HeaderOmitResponse, "TRUE")

	h := Parse(hdr)
	if !h.OmitRequest || !h.OmitResponse {
		t.Errorf("omit flags = %v/%v, want true/true", h.OmitRequest, h.OmitResponse)
	}
}

func TestParse_RetryBlock(t *testing.T) {
	hdr := http.Header{}
	hdr.Set(HeaderRetryEnabled, "true")
	hdr.Set(HeaderRetryNum, "3")
	hdr.Set(HeaderRetryFactor, "1.5")
	hdr.Set(HeaderRetryMinTimeout, "250")
	hdr.Set(HeaderRetryMaxTimeout, "4000")

	r := Parse(hdr).Retry
	if !r.Enabled {
		t.Fatal("retry not enabled")
	}
	if r.Retries != 3 {
		t.Errorf("Retries = %d, want 3", r.Retries)
	}
	if r.Factor != 1.5 {
		t.Errorf("Factor = %v, want 1.5", r.Factor)
	}
	if r.MinTimeout != 250*time.Millisecond {
		t.Errorf("MinTimeout = %v, want 250ms", r.MinTimeout)
	}
	if r.MaxTimeout != 4*time.Second {
		t.Errorf("MaxTimeout = %v, want 4s", r.MaxTimeout)
	}
}

func TestParse_RetryDefaults(t *testing.T) {
	hdr := http.Header{}
	hdr.Set(HeaderRetryEnabled, "true")
	hdr.Set(HeaderRetryNum, "banana")

	r := Parse(hdr).Retry
	if r.Retries != DefaultRetries {
		t.Errorf("Retries = %d, want default %d", r.Retries, DefaultRetries)
	}
	if r.Factor != DefaultFactor {
		t.Errorf("Factor = %v, want default %v", r.Factor, DefaultFactor)
	}
}

func TestParse_Properties(t *testing.T) {
	hdr := http.Header{}
	hdr.Set("Helicone-Property-App", "chat")
	hdr.Set("HELICONE-PROPERTY-Environment", "prod")
	hdr.Set("X-Other", "ignored")

	props := Parse(hdr).Properties
	if len(props) != 2 {
		t.Fatalf("got %d properties, want 2: %v", len(props), props)
	}
	if props["app"] != "chat" {
		t.Errorf("props[app] = %q, want chat", props["app"])
	}
	if props["environment"] != "prod" {
		t.Errorf("props[environment] = %q, want prod", props["environment"])
	}
}

func TestParse_TemplateInfo(t *testing.T) {
	hdr := http.Header{}
	hdr.Set("Helicone-Template-Id", "welcome-v2")
	hdr.Set("HELICONE-TEMPLATE-Version", "7")
	hdr.Set("Helicone-Property-App", "chat")

	tpl := Parse(hdr).TemplateInfo
	if len(tpl) != 2 {
		t.Fatalf("got %d template fields, want 2: %v", len(tpl), tpl)
	}
	if tpl["id"] != "welcome-v2" {
		t.Errorf("tpl[id] = %q, want welcome-v2", tpl["id"])
	}
	if tpl["version"] != "7" {
		t.Errorf("tpl[version] = %q, want 7", tpl["version"])
	}
}

func TestIsGatewayHeader(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"Helicone-Auth", true},
		{"helicone-rateLimit-policy", true},
		{"HELICONE-PROPERTY-APP", true},
		{"Authorization", false},
		{"Heli", false},
	}
	for _, tt := range tests {
		if got := IsGatewayHeader(tt.name); got != tt.want {
			t.Errorf("IsGatewayHeader(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}
