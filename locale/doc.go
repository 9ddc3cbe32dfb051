// Package locale guesses a display language from a client IP and merges it
// into stored user preferences.
//
// Detection is best effort. Detector.Detect never returns an error: any
// lookup failure yields English, and the caller treats the result as a
// suggestion that an explicitly stored preference always overrides.
package locale
