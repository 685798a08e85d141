// Package i18n keys user-facing strings for later translation. Today it only
// returns the default text.
package i18n

// T resolves a message key, falling back to defaultValue when no translation
// exists.
func T(_ string, defaultValue string) string {
	return defaultValue
}
