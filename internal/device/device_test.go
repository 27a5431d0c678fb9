package device

import (
	"strings"
	"testing"
)

const (
	chromeWindows = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	safariIPhone  = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1"
	googlebot     = "Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)"
)

func TestFingerprint_StableAndOrderSensitive(t *testing.T) {
	a := Fingerprint("10.0.0.1", chromeWindows, "salt")
	if a != Fingerprint("10.0.0.1", chromeWindows, "salt") {
		t.Fatal("fingerprint not stable")
	}
	if len(a) != 64 {
		t.Errorf("fingerprint length = %d, want 64", len(a))
	}
	if a == Fingerprint(chromeWindows, "10.0.0.1", "salt") {
		t.Error("swapping ip and user agent must change the fingerprint")
	}
	if a == Fingerprint("10.0.0.1", chromeWindows, "other") {
		t.Error("salt must change the fingerprint")
	}
	if a == Fingerprint("10.0.0.2", chromeWindows, "salt") {
		t.Error("ip must change the fingerprint")
	}
}

func TestFingerprinter_Disabled(t *testing.T) {
	f := NewFingerprinter(false, "salt")
	if got := f.Fingerprint("10.0.0.1", chromeWindows); got != DisabledFingerprint {
		t.Errorf("disabled fingerprint = %q, want sentinel", got)
	}
	if f.Fingerprint("10.0.0.1", chromeWindows) != f.Fingerprint("192.168.1.1", safariIPhone) {
		t.Error("disabled mode must collapse all devices")
	}
	var nilF *Fingerprinter
	if nilF.Fingerprint("a", "b") != DisabledFingerprint {
		t.Error("nil Fingerprinter should behave as disabled")
	}

	on := NewFingerprinter(true, "salt")
	if on.Fingerprint("10.0.0.1", chromeWindows) != Fingerprint("10.0.0.1", chromeWindows, "salt") {
		t.Error("enabled Fingerprinter should use the salted hash")
	}
}

func TestLabel(t *testing.T) {
	if got := Label(""); got != UnknownLabel {
		t.Errorf("Label(empty) = %q, want %q", got, UnknownLabel)
	}
	if got := Label("   "); got != UnknownLabel {
		t.Errorf("Label(blank) = %q, want %q", got, UnknownLabel)
	}

	got := Label(chromeWindows)
	if !strings.Contains(got, "Chrome") || !strings.Contains(got, "Windows") {
		t.Errorf("Label(chrome/windows) = %q", got)
	}
	if strings.Contains(got, "(mobile)") {
		t.Errorf("desktop UA labelled mobile: %q", got)
	}

	if got := Label(safariIPhone); !strings.Contains(got, "(mobile)") {
		t.Errorf("Label(iphone) = %q, want mobile marker", got)
	}
	if got := Label(googlebot); !strings.Contains(strings.ToLower(got), "bot") {
		t.Errorf("Label(googlebot) = %q, want bot marker", got)
	}
}
