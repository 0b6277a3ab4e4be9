package sanitize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestText(t *testing.T) {
	cases := map[string]struct{ in, want string }{
		"plain":          {"221B Baker Street", "221B Baker Street"},
		"tags":           {"<b>221B</b> Baker <i>Street</i>", "221B Baker Street"},
		"script dropped": {`Main St<script>alert("x")</script>`, "Main St"},
		"escaped markup": {"&lt;img src=x onerror=alert(1)&gt;Elm", "img src=x onerror=alert(1)Elm"},
		"control chars":  {"Line\x00One\x07", "LineOne"},
		"whitespace":     {"  New \t\n York  ", "New York"},
		"nfkc":           {"Ｔｏｋｙｏ", "Tokyo"},
		"zero width":     {"Ber\u200blin", "Berlin"},
		"empty":          {"", ""},
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, c.want, Text(c.in))
		})
	}
}
