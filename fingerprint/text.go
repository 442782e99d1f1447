package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"finpulse/types"
)

// bracketTag matches leading/embedded tags such as 【快讯】, [Breaking] or (Update).
var bracketTag = regexp.MustCompile(`【[^】]*】|\[[^\]]*\]|\([^)]*\)|（[^）]*）`)

// StripMarkup returns the visible text of an HTML fragment. Plain text
// passes through unchanged apart from entity decoding.
func StripMarkup(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return s
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return s
	}
	doc.Find("script,style,noscript").Remove()

	var b strings.Builder
	for _, n := range doc.Nodes {
		collectText(n, &b)
	}
	return b.String()
}

func collectText(n *html.Node, b *strings.Builder) {
	if n.Type == html.TextNode {
		b.WriteString(n.Data)
		b.WriteByte(' ')
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, b)
	}
}

// NormalizeText strips markup, lowercases and collapses whitespace.
func NormalizeText(s string) string {
	s = StripMarkup(s)
	s = strings.ToLower(s)
	return strings.Join(strings.Fields(s), " ")
}

// NormalizeTitle is NormalizeText with bracketed tags removed.
func NormalizeTitle(t string) string {
	return NormalizeText(bracketTag.ReplaceAllString(StripMarkup(t), " "))
}

// ContentHash hashes normalized title+body, falling back to title+summary
// when the body is empty. Source metadata does not participate.
func ContentHash(d types.Draft) string {
	text := d.Body
	if strings.TrimSpace(text) == "" {
		text = d.Summary
	}
	combined := NormalizeTitle(d.Title) + "\n" + NormalizeText(text)
	h := sha256.Sum256([]byte(combined))
	return hex.EncodeToString(h[:])
}

// EmbeddingInput builds the text sent to the embedding provider: title and
// summary (body when no summary), truncated to maxRunes.
func EmbeddingInput(d types.Draft, maxRunes int) string {
	rest := d.Summary
	if strings.TrimSpace(rest) == "" {
		rest = d.Body
	}
	text := strings.Join(strings.Fields(StripMarkup(d.Title)+" "+StripMarkup(rest)), " ")
	return truncateRunes(text, maxRunes)
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
