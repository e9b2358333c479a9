package utils

import "testing"

func TestFormatDisplayName(t *testing.T) {
	cases := []struct {
		locale, name, want string
	}{
		{"ko", "지은", "지은님"},
		{"ko", "지은님", "지은님"},
		{"ja", "さくら", "さくらさん"},
		{"ja", "さくらさん", "さくらさん"},
		{"ja", "田中様", "田中様"},
		{"zh", "王伟", "王伟"},
		{"en", "Jamie Park", "Jamie"},
		{"en", "Jamie", "Jamie"},
		{"en", "  Jamie Park  ", "Jamie"},
		{"en", "", ""},
	}
	for _, c := range cases {
		if got := FormatDisplayName(c.locale, c.name); got != c.want {
			t.Fatalf("FormatDisplayName(%q, %q) = %q, want %q", c.locale, c.name, got, c.want)
		}
	}
}
