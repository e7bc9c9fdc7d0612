package textutil

import "testing"

func TestPlainText(t *testing.T) {
	cases := map[string]string{
		"  Jane   Doe ":                  "Jane Doe",
		"<b>Jane</b> <script>x</script>": "Jane",
		"Smith & Co":                     "Smith & Co",
		"line\nbreak":                    "line break",
		"":                               "",
	}
	for input, want := range cases {
		if got := PlainText(input); got != want {
			t.Errorf("PlainText(%q) = %q, want %q", input, got, want)
		}
	}
}
