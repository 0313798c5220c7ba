// Package selector maps logical field names ("username_input",
// "search_button", ...) to the concrete CSS or XPath locators configured for
// a portal.
package selector

// Resolve returns m[name] when it is set and non-empty, otherwise fallback.
// An empty result means the feature does not apply to the portal.
func Resolve(m map[string]string, name, fallback string) string {
	if v := m[name]; v != "" {
		return v
	}
	return fallback
}

// Config holds the two selector maps of the configuration file.
type Config struct {
	XPathMap map[string]string `json:"xpath"`
	LoginMap map[string]string `json:"login"`
}

// XPath resolves name from the "xpath" map.
func (c Config) XPath(name string, fallback ...string) string {
	return Resolve(c.XPathMap, name, first(fallback))
}

// Login resolves name from the "login" map.
func (c Config) Login(name string, fallback ...string) string {
	return Resolve(c.LoginMap, name, first(fallback))
}

func first(s []string) string {
	if len(s) == 0 {
		return ""
	}
	return s[0]
}
