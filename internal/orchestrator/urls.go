package orchestrator

import (
	"fmt"
	"regexp"
	"strings"
)

// URL forcing: when the user references an external site, the model-facing
// text (never the persisted text) gets a non-negotiable directive to call
// analyze_website first. If round 1 still comes back without that call, the
// orchestrator synthesizes it.

var (
	fullURLRe    = regexp.MustCompile(`https?://[^\s<>"')\]]+`)
	bareDomainRe = regexp.MustCompile(`(?i)\b(?:[a-z0-9](?:[a-z0-9-]{0,61}[a-z0-9])?\.)+([a-z]{2,})\b(?:/[^\s<>"')\]]*)?`)
)

// knownTLDs validates bare-domain candidates. Full URLs skip this check since
// the scheme already marks intent.
var knownTLDs = map[string]bool{
	"com": true, "org": true, "net": true, "io": true, "dev": true,
	"ai": true, "co": true, "app": true, "edu": true, "gov": true,
	"info": true, "biz": true, "me": true, "us": true, "uk": true,
	"de": true, "fr": true, "es": true, "it": true, "nl": true,
	"ca": true, "au": true, "jp": true, "in": true, "br": true,
	"xyz": true, "tech": true, "store": true, "online": true, "site": true,
}

// freeMailDomains are skipped so an email address in the text does not force
// a website analysis.
var freeMailDomains = map[string]bool{
	"gmail.com":      true,
	"yahoo.com":      true,
	"hotmail.com":    true,
	"outlook.com":    true,
	"aol.com":        true,
	"icloud.com":     true,
	"protonmail.com": true,
	"proton.me":      true,
	"live.com":       true,
	"msn.com":        true,
}

// detectURL returns the first URL-like reference in text, normalized to carry
// a scheme, or "" when none is found.
func detectURL(text string) string {
	if match := fullURLRe.FindString(text); match != "" {
		return strings.TrimRight(match, ".,;:!?")
	}

	for _, match := range bareDomainRe.FindAllStringSubmatch(text, -1) {
		candidate := strings.TrimRight(match[0], ".,;:!?")
		tld := strings.ToLower(match[1])
		if !knownTLDs[tld] {
			continue
		}
		host := candidate
		if i := strings.IndexByte(host, '/'); i >= 0 {
			host = host[:i]
		}
		host = strings.ToLower(host)
		if freeMailDomains[host] {
			continue
		}
		// An email address puts an @ right before the domain.
		if idx := strings.Index(text, candidate); idx > 0 && text[idx-1] == '@' {
			continue
		}
		return "https://" + candidate
	}

	return ""
}

// urlDirective builds the model-facing augmentation for a detected URL.
func urlDirective(url string) string {
	return fmt.Sprintf(
		"\n\n[SYSTEM DIRECTIVE - NON-NEGOTIABLE] The user referenced %s. You MUST invoke the analyze_website tool with arguments {\"url\": %q} before producing any other content. Do not answer from memory.",
		url, url,
	)
}
