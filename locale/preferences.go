package locale

// Display holds the display preferences the auth flows may touch.
type Display struct {
	Language   string `json:"language,omitempty"`
	Theme      string `json:"theme,omitempty"`
	OddsFormat string `json:"oddsFormat,omitempty"`
	Timezone   string `json:"timezone,omitempty"`
}

// Preferences is the typed subset of a user's stored preferences.
type Preferences struct {
	Display Display `json:"display"`
}

// DefaultPreferences are used for every field nobody has set.
func DefaultPreferences() Preferences {
	return Preferences{Display: Display{
		Language:   English.Code,
		Theme:      "dark",
		OddsFormat: "decimal",
		Timezone:   "UTC",
	}}
}

// MergePreferences resolves each field as stored, else detected, else the
// default. Stored values always win.
func MergePreferences(stored, detected Preferences) Preferences {
	def := DefaultPreferences()
	return Preferences{Display: Display{
		Language:   first(stored.Display.Language, detected.Display.Language, def.Display.Language),
		Theme:      first(stored.Display.Theme, detected.Display.Theme, def.Display.Theme),
		OddsFormat: first(stored.Display.OddsFormat, detected.Display.OddsFormat, def.Display.OddsFormat),
		Timezone:   first(stored.Display.Timezone, detected.Display.Timezone, def.Display.Timezone),
	}}
}

func first(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
