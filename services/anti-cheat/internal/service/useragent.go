// services/anti-cheat/internal/service/useragent.go
package service

import (
	"strings"

	"github.com/mssola/useragent"

	"trust-defense/services/anti-cheat/internal/models"
)

// parsedAgent is what we keep from a User-Agent header.
type parsedAgent struct {
	Browser  string
	OS       string
	Platform string
	Mobile   bool
	Bot      bool
}

var headlessMarkers = []string{"headlesschrome", "phantomjs", "selenium", "puppeteer", "python-requests", "curl/", "wget/"}

func parseUserAgent(raw string) parsedAgent {
	if raw == "" {
		return parsedAgent{}
	}
	ua := useragent.New(raw)
	name, version := ua.Browser()

	browser := name
	if version != "" {
		browser = name + " " + version
	}

	p := parsedAgent{
		Browser:  browser,
		OS:       ua.OS(),
		Platform: ua.Platform(),
		Mobile:   ua.Mobile(),
		Bot:      ua.Bot(),
	}

	lower := strings.ToLower(raw)
	for _, marker := range headlessMarkers {
		if strings.Contains(lower, marker) {
			p.Bot = true
			break
		}
	}
	return p
}

// mergeDeviceInfo fills fields the client did not send from the parsed agent.
// Values reported by the client win.
func mergeDeviceInfo(current, reported models.DeviceInfo, agent parsedAgent) models.DeviceInfo {
	out := current
	if reported.UserAgent != "" {
		out.UserAgent = reported.UserAgent
	}
	if reported.Screen != "" {
		out.Screen = reported.Screen
	}
	if reported.Timezone != "" {
		out.Timezone = reported.Timezone
	}
	if reported.Language != "" {
		out.Language = reported.Language
	}

	switch {
	case reported.Platform != "":
		out.Platform = reported.Platform
	case agent.Platform != "":
		out.Platform = agent.Platform
	}
	switch {
	case reported.Browser != "":
		out.Browser = reported.Browser
	case agent.Browser != "":
		out.Browser = agent.Browser
	}
	switch {
	case reported.OS != "":
		out.OS = reported.OS
	case agent.OS != "":
		out.OS = agent.OS
	}
	if reported.IsMobile || agent.Mobile {
		out.IsMobile = true
	}
	return out
}
