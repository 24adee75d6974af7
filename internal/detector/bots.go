package detector

import (
	"strings"

	"github.com/gzhole/accessguard/internal/accesslog"
)

var crawlerTokens = []string{
	"googlebot",
	"bingbot",
	"baiduspider",
	"yandexbot",
	"duckduckbot",
	"slurp",
	"facebookexternalhit",
	"twitterbot",
	"applebot",
	"linkedinbot",
	"petalbot",
	"semrushbot",
}

var clientLibTokens = []string{
	"curl",
	"wget",
	"httpclient",
	"python-requests",
	"aiohttp",
	"okhttp",
	"java/",
	"libwww-perl",
	"go-http-client",
	"restsharp",
	"scrapy",
	"httpie",
}

const (
	BotCrawler    = "Crawler Bot"
	BotClientLib  = "Client Library Bot"
	BotSuspicious = "Suspicious User-Agent"
)

// minUserAgentLen is the shortest user agent not considered suspicious.
const minUserAgentLen = 10

// BotDetector classifies user agents as crawler, HTTP client library, or
// otherwise suspicious. The first matching class wins.
type BotDetector struct{}

func (BotDetector) Key() Key     { return KeyBots }
func (BotDetector) Name() string { return categoryName(KeyBots) }

func (BotDetector) Classify(records []accesslog.Record) []Flagged {
	return filter(records, func(r accesslog.Record) string {
		return ClassifyUserAgent(r.UserAgent)
	})
}

// ClassifyUserAgent returns the bot class for ua, or "" for an ordinary
// browser user agent.
func ClassifyUserAgent(ua string) string {
	lower := strings.ToLower(ua)

	if containsAny(lower, crawlerTokens) {
		return BotCrawler
	}
	if containsAny(lower, clientLibTokens) {
		return BotClientLib
	}
	if strings.TrimSpace(lower) == "" || len(lower) < minUserAgentLen || !strings.Contains(lower, "mozilla") {
		return BotSuspicious
	}
	return ""
}

func containsAny(s string, tokens []string) bool {
	for _, t := range tokens {
		if strings.Contains(s, t) {
			return true
		}
	}
	return false
}
