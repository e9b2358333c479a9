package utils

import "strings"

// FormatDisplayName adapts an inviter's name to the locale's address
// conventions before it is interpolated into a partner's or reviewer's
// prompts: ko and ja append an honorific unless one is already present,
// zh keeps the name as-is, western locales use the first name only.
func FormatDisplayName(locale, name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	switch locale {
	case "ko":
		if strings.HasSuffix(name, "님") {
			return name
		}
		return name + "님"
	case "ja":
		for _, suffix := range []string{"さん", "様", "君", "ちゃん"} {
			if strings.HasSuffix(name, suffix) {
				return name
			}
		}
		return name + "さん"
	case "zh":
		return name
	default:
		if i := strings.IndexByte(name, ' '); i > 0 {
			return name[:i]
		}
		return name
	}
}
