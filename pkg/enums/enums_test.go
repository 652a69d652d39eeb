package enums

import "testing"

func TestParseProvider(t *testing.T) {
	cases := map[string]Provider{
		"square":         ProviderSquare,
		" Shopify ":      ProviderShopify,
		"WOOCOMMERCE":    ProviderWooCommerce,
		"custom_webhook": ProviderCustomWebhook,
	}
	for raw, want := range cases {
		got, err := ParseProvider(raw)
		if err != nil {
			t.Fatalf("ParseProvider(%q) unexpected error: %v", raw, err)
		}
		if got != want {
			t.Fatalf("ParseProvider(%q) = %q, want %q", raw, got, want)
		}
	}
	if _, err := ParseProvider("lightspeed"); err == nil {
		t.Fatal("expected unknown provider to be rejected")
	}
}

func TestAllProvidersIsACopy(t *testing.T) {
	all := AllProviders()
	all[0] = "mutated"
	if !ProviderSquare.IsValid() || AllProviders()[0] != ProviderSquare {
		t.Fatal("AllProviders must not expose the backing slice")
	}
}

func TestDispatchStatusTerminal(t *testing.T) {
	if DispatchStatusPending.IsTerminal() {
		t.Fatal("pending is not terminal")
	}
	for _, status := range []DispatchStatus{
		DispatchStatusSent,
		DispatchStatusSkippedConsent,
		DispatchStatusSkippedFrequency,
		DispatchStatusSkippedDisabledLocation,
		DispatchStatusFailed,
	} {
		if !status.IsTerminal() {
			t.Fatalf("expected %s to be terminal", status)
		}
	}
	if DispatchStatus("queued").IsTerminal() {
		t.Fatal("unknown status should not be terminal")
	}
}

func TestParseIntegrationStatus(t *testing.T) {
	if _, err := ParseIntegrationStatus("linked"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := ParseIntegrationStatus("authorizing"); err == nil {
		t.Fatal("authorizing is never persisted")
	}
}
