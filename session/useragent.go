package session

import "strings"

// Device types reported by ParseUserAgent.
const (
	DeviceDesktop = "desktop"
	DeviceMobile  = "mobile"
	DeviceTablet  = "tablet"

	unknown = "Unknown"
)

// DeviceInfo is what can be read from a User-Agent header.
type DeviceInfo struct {
	Name    string
	Type    string
	Browser string
	OS      string
}

type uaRule struct {
	markers    []string
	name       string
	deviceType string
}

// Order matters: the first rule with a matching marker wins.
var browserRules = []uaRule{
	{markers: []string{"Firefox"}, name: "Firefox"},
	{markers: []string{"Edg/"}, name: "Edge"},
	{markers: []string{"Chrome"}, name: "Chrome"},
	{markers: []string{"Safari"}, name: "Safari"},
	{markers: []string{"Opera", "OPR"}, name: "Opera"},
}

var osRules = []uaRule{
	{markers: []string{"Windows"}, name: "Windows"},
	{markers: []string{"Mac OS X", "Macintosh"}, name: "macOS"},
	{markers: []string{"Linux"}, name: "Linux"},
	{markers: []string{"Android"}, name: "Android", deviceType: DeviceMobile},
	{markers: []string{"iPhone"}, name: "iOS", deviceType: DeviceMobile},
	{markers: []string{"iPad"}, name: "iPadOS", deviceType: DeviceTablet},
}

func match(rules []uaRule, ua string) (uaRule, bool) {
	for _, r := range rules {
		for _, m := range r.markers {
			if strings.Contains(ua, m) {
				return r, true
			}
		}
	}
	return uaRule{}, false
}

// ParseUserAgent derives browser, OS and device type with ordered substring
// matches. Anything unrecognized is reported as "Unknown" on a desktop.
func ParseUserAgent(ua string) DeviceInfo {
	info := DeviceInfo{Type: DeviceDesktop, Browser: unknown, OS: unknown}
	if r, ok := match(browserRules, ua); ok {
		info.Browser = r.name
	}
	if r, ok := match(osRules, ua); ok {
		info.OS = r.name
		if r.deviceType != "" {
			info.Type = r.deviceType
		}
	}
	info.Name = info.Browser + " on " + info.OS
	return info
}
