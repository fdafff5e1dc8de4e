package service

import (
	"strings"
	"unicode/utf8"

	"github.com/mssola/useragent"
	"github.com/sifan077/shortlink/internal/app/model"
)

// Classification is what a click records about the visitor's client.
type Classification struct {
	DeviceType string
	Browser    string
}

// Classifier derives device type and browser from a raw user-agent string.
type Classifier interface {
	Classify(userAgent string) Classification
}

// ClassifierFunc adapts a function to Classifier.
type ClassifierFunc func(userAgent string) Classification

func (f ClassifierFunc) Classify(userAgent string) Classification { return f(userAgent) }

// DefaultClassifier combines DeviceType and BrowserName.
var DefaultClassifier Classifier = ClassifierFunc(func(userAgent string) Classification {
	return Classification{
		DeviceType: DeviceType(userAgent),
		Browser:    BrowserName(userAgent),
	}
})

// DeviceType matches substrings in priority order: "Mobile", then "Tablet",
// otherwise Desktop. Matching is case-sensitive.
func DeviceType(userAgent string) string {
	switch {
	case strings.Contains(userAgent, "Mobile"):
		return model.DeviceMobile
	case strings.Contains(userAgent, "Tablet"):
		return model.DeviceTablet
	default:
		return model.DeviceDesktop
	}
}

// BrowserName formats the parsed browser as "family major.minor". Unknown
// families render as "Other" and missing version parts as "0". The result
// never exceeds model.BrowserMaxLength characters.
func BrowserName(userAgent string) string {
	family, version := useragent.New(userAgent).Browser()
	return formatBrowser(family, version)
}

func formatBrowser(family, version string) string {
	family = strings.TrimSpace(family)
	if family == "" {
		family = "Other"
	}

	major, minor := "0", "0"
	parts := strings.SplitN(version, ".", 3)
	if len(parts) > 0 && parts[0] != "" {
		major = parts[0]
	}
	if len(parts) > 1 && parts[1] != "" {
		minor = parts[1]
	}
	version = truncateRunes(major, maxVersionPart) + "." + truncateRunes(minor, maxVersionPart)
	family = truncateRunes(family, model.BrowserMaxLength-1-utf8.RuneCountInString(version))
	return family + " " + version
}

const maxVersionPart = 16

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
