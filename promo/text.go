package promo

import "strings"

// linkSeparator joins the body and the appended link.
const linkSeparator = "\n\n"

// ResolveText picks the text to post for a config: a human override wins,
// then generated copy, then a minimal title fallback. When the config wants
// a link and one is available it is appended, with the body truncated first
// so the link itself is never cut.
func ResolveText(cfg *TweetConfig, item *ContentItem, link string, limit int) string {
	body := strings.TrimSpace(cfg.CustomContent)
	if body == "" {
		body = strings.TrimSpace(cfg.GeneratedContent)
	}
	if body == "" {
		body = strings.TrimSpace(item.Title)
	}

	if !cfg.IncludeLink || link == "" {
		return truncateRunes(body, limit)
	}

	reserve := len([]rune(link)) + len([]rune(linkSeparator))
	if reserve >= limit {
		// Pathological link longer than the whole limit: post the body alone.
		return truncateRunes(body, limit)
	}
	body = truncateRunes(body, limit-reserve)
	return body + linkSeparator + link
}

// truncateRunes cuts s to at most limit runes, replacing the tail with an
// ellipsis character when something was removed.
func truncateRunes(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	if limit <= 1 {
		return string(r[:limit])
	}
	return string(r[:limit-1]) + "…"
}
