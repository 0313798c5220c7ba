package selector

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	m := map[string]string{
		"username_input": "#user",
		"captcha_input":  "",
	}

	require.Equal(t, "#user", Resolve(m, "username_input", "#fallback"))
	require.Equal(t, "#fallback", Resolve(m, "captcha_input", "#fallback"))
	require.Equal(t, "", Resolve(m, "missing", ""))
	require.Equal(t, "tr", Resolve(nil, "course_row", "tr"))
}

func TestConfig(t *testing.T) {
	c := Config{
		XPathMap: map[string]string{"search_button": "//button[@id='search']"},
		LoginMap: map[string]string{"password_input": "#pwd"},
	}

	require.Equal(t, "//button[@id='search']", c.XPath("search_button"))
	require.Equal(t, "tr", c.XPath("course_row", "tr"))
	require.Equal(t, "#pwd", c.Login("password_input"))
	require.Equal(t, "", c.Login("captcha_refresh"))
}
