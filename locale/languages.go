package locale

import "strings"

// Language is a supported UI language.
type Language struct {
	Code       string `json:"code"`
	Name       string `json:"name"`
	NativeName string `json:"nativeName"`
}

// English is the default language.
var English = Language{Code: "en", Name: "English", NativeName: "English"}

var supported = []Language{
	English,
	{Code: "ro", Name: "Romanian", NativeName: "Română"},
	{Code: "es", Name: "Spanish", NativeName: "Español"},
	{Code: "pt", Name: "Portuguese", NativeName: "Português"},
	{Code: "fr", Name: "French", NativeName: "Français"},
	{Code: "de", Name: "German", NativeName: "Deutsch"},
	{Code: "it", Name: "Italian", NativeName: "Italiano"},
	{Code: "nl", Name: "Dutch", NativeName: "Nederlands"},
	{Code: "pl", Name: "Polish", NativeName: "Polski"},
	{Code: "tr", Name: "Turkish", NativeName: "Türkçe"},
	{Code: "ru", Name: "Russian", NativeName: "Русский"},
	{Code: "el", Name: "Greek", NativeName: "Ελληνικά"},
	{Code: "hu", Name: "Hungarian", NativeName: "Magyar"},
	{Code: "cs", Name: "Czech", NativeName: "Čeština"},
	{Code: "sv", Name: "Swedish", NativeName: "Svenska"},
	{Code: "no", Name: "Norwegian", NativeName: "Norsk"},
	{Code: "da", Name: "Danish", NativeName: "Dansk"},
	{Code: "fi", Name: "Finnish", NativeName: "Suomi"},
	{Code: "ja", Name: "Japanese", NativeName: "日本語"},
	{Code: "ko", Name: "Korean", NativeName: "한국어"},
	{Code: "zh", Name: "Chinese", NativeName: "中文"},
	{Code: "ar", Name: "Arabic", NativeName: "العربية"},
}

var countryLanguage = map[string]string{
	"RO": "ro", "MD": "ro",
	"ES": "es", "MX": "es", "AR": "es", "CO": "es", "CL": "es", "PE": "es", "VE": "es", "EC": "es",
	"PT": "pt", "BR": "pt",
	"FR": "fr", "BE": "fr",
	"CH": "de", "DE": "de", "AT": "de",
	"CA": "en", "US": "en", "GB": "en", "AU": "en", "NZ": "en", "IE": "en",
	"IT": "it",
	"NL": "nl",
	"PL": "pl",
	"TR": "tr",
	"RU": "ru", "BY": "ru", "KZ": "ru",
	"GR": "el", "CY": "el",
	"HU": "hu",
	"CZ": "cs",
	"SE": "sv",
	"NO": "no",
	"DK": "da",
	"FI": "fi",
	"JP": "ja",
	"KR": "ko",
	"CN": "zh", "TW": "zh", "HK": "zh",
	"SA": "ar", "AE": "ar", "EG": "ar",
}

// Supported lists every language the UI offers.
func Supported() []Language {
	return append([]Language(nil), supported...)
}

// ByCode returns the language for code, or English.
func ByCode(code string) Language {
	for _, l := range supported {
		if l.Code == code {
			return l
		}
	}
	return English
}

// ForCountry maps an ISO 3166 alpha-2 code to a language, or English.
func ForCountry(countryCode string) Language {
	if code, ok := countryLanguage[strings.ToUpper(strings.TrimSpace(countryCode))]; ok {
		return ByCode(code)
	}
	return English
}
