package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// WebsiteConfig controls analyze_website defaults.
type WebsiteConfig struct {
	MaxChars int           `yaml:"max_chars"`
	Timeout  time.Duration `yaml:"timeout"`
}

// WebsiteTool fetches a URL and summarizes its readable content. This is the
// tool the orchestrator forces when the user message references an external
// site.
type WebsiteTool struct {
	config        WebsiteConfig
	httpClient    *http.Client
	skipSSRFCheck bool // For testing only - allows localhost URLs
}

// WebsiteName is the registered name of the website-analysis tool.
const WebsiteName = "analyze_website"

// NewWebsiteTool creates an analyze_website tool with defaults applied.
func NewWebsiteTool(config *WebsiteConfig) *WebsiteTool {
	cfg := WebsiteConfig{MaxChars: 10000, Timeout: 15 * time.Second}
	if config != nil {
		if config.MaxChars > 0 {
			cfg.MaxChars = config.MaxChars
		}
		if config.Timeout > 0 {
			cfg.Timeout = config.Timeout
		}
	}
	return &WebsiteTool{
		config:     cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// NewWebsiteToolForTesting creates a website tool that allows localhost URLs.
// This should only be used in tests.
func NewWebsiteToolForTesting(config *WebsiteConfig) *WebsiteTool {
	tool := NewWebsiteTool(config)
	tool.skipSSRFCheck = true
	return tool
}

// Name returns the tool name for registration.
func (t *WebsiteTool) Name() string {
	return WebsiteName
}

// Description returns the tool description.
func (t *WebsiteTool) Description() string {
	return "Fetch a URL and extract its title, description, and readable text content."
}

// Schema returns the JSON schema for tool parameters.
func (t *WebsiteTool) Schema() json.RawMessage {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"url": map[string]interface{}{
				"type":        "string",
				"description": "URL to analyze (http/https only)",
			},
		},
		"required": []string{"url"},
	}
	schemaBytes, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return schemaBytes
}

// Execute fetches the page with SSRF protection and returns extracted content.
func (t *WebsiteTool) Execute(ctx context.Context, args json.RawMessage) (*Result, error) {
	var params struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return &Result{
			Content: fmt.Sprintf("Invalid parameters: %v", err),
			IsError: true,
		}, nil
	}
	if params.URL == "" {
		return &Result{
			Content: "Missing required parameter: url",
			IsError: true,
		}, nil
	}

	if !t.skipSSRFCheck {
		if err := validateURLForSSRF(params.URL); err != nil {
			return &Result{
				Content: fmt.Sprintf("URL validation failed: %v", err),
				IsError: true,
			}, nil
		}
	}

	content, err := t.fetch(ctx, params.URL)
	if err != nil {
		return &Result{
			Content: fmt.Sprintf("Fetch failed: %v", err),
			IsError: true,
		}, nil
	}
	return &Result{Content: content}, nil
}

func (t *WebsiteTool) fetch(ctx context.Context, targetURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", targetURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; GalaxyAssistant/1.0)")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch URL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.Contains(contentType, "text/html") && !strings.Contains(contentType, "text/plain") {
		return "", fmt.Errorf("unsupported content type: %s", contentType)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10*1024*1024)) // 10MB limit
	if err != nil {
		return "", fmt.Errorf("failed to read body: %w", err)
	}

	content := extractReadableContent(string(body))
	if len(content) > t.config.MaxChars {
		content = content[:t.config.MaxChars] + "..."
	}
	return content, nil
}

// isPrivateOrReservedIP checks if an IP address is private, loopback, or reserved.
func isPrivateOrReservedIP(ip net.IP) bool {
	if ip == nil {
		return false
	}
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return true
	}
	if ip.IsPrivate() || ip.IsUnspecified() || ip.IsMulticast() {
		return true
	}
	// Cloud metadata endpoint
	return ip.Equal(net.ParseIP("169.254.169.254"))
}

// validateURLForSSRF validates a URL to prevent SSRF attacks.
func validateURLForSSRF(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got: %s", parsed.Scheme)
	}
	hostname := parsed.Hostname()
	if hostname == "" {
		return fmt.Errorf("URL must have a hostname")
	}
	lowerHost := strings.ToLower(hostname)
	if lowerHost == "localhost" || strings.HasSuffix(lowerHost, ".localhost") {
		return fmt.Errorf("localhost URLs are not allowed")
	}

	ips, err := net.LookupIP(hostname)
	if err != nil {
		// If we can't resolve, allow the request (DNS may be handled by proxy)
		return nil
	}
	for _, ip := range ips {
		if isPrivateOrReservedIP(ip) {
			return fmt.Errorf("URL resolves to private/reserved IP address")
		}
	}
	return nil
}

var (
	titleRe       = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
	ogTitleRe     = regexp.MustCompile(`(?i)<meta[^>]*property=["']og:title["'][^>]*content=["']([^"']*)["']`)
	h1Re          = regexp.MustCompile(`(?is)<h1[^>]*>(.*?)</h1>`)
	descriptionRe = regexp.MustCompile(`(?i)<meta[^>]*name=["']description["'][^>]*content=["']([^"']*)["']`)
	tagRe         = regexp.MustCompile(`<[^>]*>`)
	spaceRe       = regexp.MustCompile(`\s+`)
)

// extractReadableContent implements a simplified readability pass: strip the
// non-content tags, pull title and description, flatten the rest to text.
func extractReadableContent(html string) string {
	for _, tag := range []string{"script", "style", "noscript", "iframe", "nav", "header", "footer", "aside"} {
		re := regexp.MustCompile(`(?is)<` + tag + `[^>]*>.*?</` + tag + `>`)
		html = re.ReplaceAllString(html, "")
	}

	title := extractFirst(html, titleRe, ogTitleRe, h1Re)
	description := extractFirst(html, descriptionRe)
	text := cleanText(tagRe.ReplaceAllString(html, " "))

	var result strings.Builder
	if title != "" {
		result.WriteString("Title: ")
		result.WriteString(title)
		result.WriteString("\n\n")
	}
	if description != "" {
		result.WriteString("Description: ")
		result.WriteString(description)
		result.WriteString("\n\n")
	}
	result.WriteString(text)
	return result.String()
}

func extractFirst(html string, patterns ...*regexp.Regexp) string {
	for _, re := range patterns {
		if matches := re.FindStringSubmatch(html); len(matches) > 1 {
			if cleaned := cleanText(matches[1]); cleaned != "" {
				return cleaned
			}
		}
	}
	return ""
}

func cleanText(s string) string {
	s = tagRe.ReplaceAllString(s, " ")
	s = strings.NewReplacer("&amp;", "&", "&lt;", "<", "&gt;", ">", "&quot;", `"`, "&#39;", "'", "&nbsp;", " ").Replace(s)
	return strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
}
