package device

import (
	"strings"

	"github.com/mssola/user_agent"
)

// UnknownLabel is the label used when the user agent says nothing useful.
const UnknownLabel = "Unknown Device"

// Label returns a best-effort "Browser on OS" description of a user agent, e.g. "Chrome on Windows 10".
func Label(userAgent string) string {
	userAgent = strings.TrimSpace(userAgent)
	if userAgent == "" {
		return UnknownLabel
	}
	ua := user_agent.New(userAgent)
	if ua.Bot() {
		name, _ := ua.Browser()
		if name == "" {
			return "Bot"
		}
		return name + " (bot)"
	}
	browser, _ := ua.Browser()
	os := ua.OSInfo().Name
	if os == "" {
		os = ua.Platform()
	}
	switch {
	case browser != "" && os != "":
		if v := ua.OSInfo().Version; v != "" && !strings.Contains(os, v) {
			os += " " + v
		}
		label := browser + " on " + os
		if ua.Mobile() {
			label += " (mobile)"
		}
		return label
	case browser != "":
		return browser
	case os != "":
		return os
	default:
		return UnknownLabel
	}
}
