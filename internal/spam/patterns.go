package spam

import (
	"regexp"
	"strings"
)

// Topic families of scam phrasing. One match per family counts, however
// many of its phrases appear.
type patternFamily struct {
	name string
	re   *regexp.Regexp
}

var categoryFamilies = []patternFamily{
	{"financial_scam", regexp.MustCompile(`(?i)(double your (money|investment)|guaranteed returns?|forex signals?|crypto giveaway|investment opportunity)`)},
	{"phishing_urgency", regexp.MustCompile(`(?i)(verify your account|account (will be )?suspended|confirm your password|unusual activity detected|click (here|the link) immediately)`)},
	{"job_solicitation", regexp.MustCompile(`(?i)(work from home|no experience (needed|required)|be your own boss|recruit new members|earn money fast)`)},
	{"romance_scam", regexp.MustCompile(`(?i)(true love awaits|my dearest stranger|lonely hearts?|send me a gift card)`)},
	{"miracle_product", regexp.MustCompile(`(?i)(miracle (cure|pill|product)|lose \d+ ?(kg|kilos|pounds)|100% natural remedy|instant results guaranteed)`)},
	{"generic_spam", regexp.MustCompile(`(?i)(limited time offer|act now|congratulations,? you (have )?won|claim your (free )?prize|buy now)`)},
}

// Explicit fraud vocabulary, multi-lingual. Matched on accent-folded
// lowercase text with word boundaries so "fraude" is not also "fraud".
var scamKeywords = []string{
	"scam", "fraud", "phishing", "malware", "ransomware",
	"estafa", "fraude", "golpe", "arnaque", "betrug",
}

// Abuse vocabulary families, multi-lingual. A family counts once and the
// slice keeps reason output deterministic.
var abuseFamilies = []struct {
	name  string
	terms []string
}{
	{"abuse_en", []string{"fuck you", "bitch", "asshole", "piece of shit"}},
	{"abuse_es", []string{"hijo de puta", "vete a la mierda", "cabron"}},
	{"abuse_pt", []string{"filho da puta", "vai se foder", "arrombado"}},
	{"abuse_fr", []string{"fils de pute", "connard", "salope"}},
}

var shortenerHosts = map[string]struct{}{
	"bit.ly":      {},
	"tinyurl.com": {},
	"t.co":        {},
	"goo.gl":      {},
	"is.gd":       {},
	"cutt.ly":     {},
	"rb.gy":       {},
	"shorturl.at": {},
}

var throwawayTLDs = []string{".tk", ".ml", ".ga", ".cf", ".gq", ".xyz", ".top", ".click"}

var (
	ipHostRegex    = regexp.MustCompile(`^\d{1,3}(\.\d{1,3}){3}$`)
	phoneRegex     = regexp.MustCompile(`\+?\d[\d\s\-]{7,}\d`)
	keywordRegexes = buildKeywordRegexes()
)

func buildKeywordRegexes() map[string]*regexp.Regexp {
	out := make(map[string]*regexp.Regexp, len(scamKeywords))
	for _, keyword := range scamKeywords {
		out[keyword] = regexp.MustCompile(`\b` + regexp.QuoteMeta(keyword) + `\b`)
	}
	return out
}

var accentFolder = strings.NewReplacer(
	"à", "a", "á", "a", "â", "a", "ä", "a", "ã", "a",
	"è", "e", "é", "e", "ê", "e", "ë", "e",
	"ì", "i", "í", "i", "î", "i", "ï", "i",
	"ò", "o", "ó", "o", "ô", "o", "ö", "o", "õ", "o",
	"ù", "u", "ú", "u", "û", "u", "ü", "u",
	"ç", "c", "ñ", "n",
)

func foldText(input string) string {
	return accentFolder.Replace(strings.ToLower(input))
}

func matchedCategoryFamilies(text string) []string {
	var names []string
	for _, family := range categoryFamilies {
		if family.re.MatchString(text) {
			names = append(names, family.name)
		}
	}
	return names
}

func matchedKeywords(folded string) []string {
	var hits []string
	for _, keyword := range scamKeywords {
		if keywordRegexes[keyword].MatchString(folded) {
			hits = append(hits, keyword)
		}
	}
	return hits
}

func matchedAbuseFamilies(folded string) []string {
	var names []string
	for _, family := range abuseFamilies {
		for _, term := range family.terms {
			if strings.Contains(folded, term) {
				names = append(names, family.name)
				break
			}
		}
	}
	return names
}

func suspiciousHost(host string) (string, bool) {
	if _, ok := shortenerHosts[host]; ok {
		return "link shortener", true
	}
	if ipHostRegex.MatchString(host) {
		return "raw ip address", true
	}
	for _, tld := range throwawayTLDs {
		if strings.HasSuffix(host, tld) {
			return "throwaway tld", true
		}
	}
	return "", false
}

func phoneTokenCount(text string) int {
	return len(phoneRegex.FindAllString(text, -1))
}

func hasRepeatedRun(text string, minRun int) bool {
	run := 0
	var last rune
	for i, r := range text {
		if i > 0 && r == last {
			run++
			if run+1 >= minRun {
				return true
			}
		} else {
			run = 0
		}
		last = r
	}
	return false
}
