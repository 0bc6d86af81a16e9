package stateid

import (
	"regexp"
	"strings"
)

// Dynamic content patterns (dates, clocks, counters). Order matters: dates
// and times are removed before bare integers so their separators go too.
var dynamicPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`),
	regexp.MustCompile(`\b\d{1,2}:\d{2}\b`),
	regexp.MustCompile(`\b\d+\b`),
}

var whitespace = regexp.MustCompile(`\s+`)

// activitySuffix matches a trailing "activity", any case
var activitySuffix = regexp.MustCompile(`(?i)activity$`)

// FilterDynamic removes content that changes between two captures of the
// same screen and normalizes whitespace
func FilterDynamic(rendering string) string {
	for _, pattern := range dynamicPatterns {
		rendering = pattern.ReplaceAllString(rendering, "")
	}
	rendering = whitespace.ReplaceAllString(rendering, " ")
	return strings.TrimSpace(rendering)
}

// ShortWindowName reduces a window identifier to a lowercase screen name
// Example: com.example.app/.SettingsActivity -> settings
func ShortWindowName(window string) string {
	name := strings.TrimSpace(window)
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	name = activitySuffix.ReplaceAllString(name, "")
	return strings.ToLower(name)
}
