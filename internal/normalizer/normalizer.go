// Package normalizer reduces rendered HTML to a canonical form such that
// byte equality between two normalized strings means "no real change".
//
// All rules are regex-level substitutions on the raw string; the package
// deliberately never parses into a DOM so normalization stays cheap and
// tolerant of malformed markup.
package normalizer

import (
	"regexp"
	"strings"
)

var (
	scriptRe      = regexp.MustCompile(`(?is)<script\b[^>]*>.*?</script>`)
	noscriptRe    = regexp.MustCompile(`(?is)<noscript\b[^>]*>.*?</noscript>`)
	commentRe     = regexp.MustCompile(`(?s)<!--.*?-->`)
	isoDateTimeRe = regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}(\.\d+)?(Z|[+-]\d{2}:?\d{2})?\b`)
	localDateRe   = regexp.MustCompile(`\b(?:Jan|Feb|Mar|Apr|May|Jun|Jul|Aug|Sep|Oct|Nov|Dec)[a-z]*\.? \d{1,2},? \d{4}\b`)
	unixMillisRe  = regexp.MustCompile(`\b\d{13,}\b`)
	classNameHashRe = regexp.MustCompile(`__className_[0-9a-fA-F]+`)
	nextjsHashRe    = regexp.MustCompile(`__nextjs_[0-9a-fA-F]+`)
	idHashRe        = regexp.MustCompile(`\bid="[0-9a-fA-F]{8,}"`)
	classHashRe     = regexp.MustCompile(`\bclass="[^"]*\b[0-9a-fA-F]{8,}\b[^"]*"`)
	dataAttrRe      = regexp.MustCompile(`\s+data-[a-zA-Z0-9_-]+="[^"]*"`)
	ariaAttrRe      = regexp.MustCompile(`\s+aria-(describedby|labelledby|controls)="[^"]*"`)
	inlineStyleRe   = regexp.MustCompile(`\s+style="[^"]*"`)
	metaCSRFRe      = regexp.MustCompile(`(?i)<meta\b[^>]*name="(csrf-token|token)"[^>]*>`)
	metaOgUpdatedRe = regexp.MustCompile(`(?i)<meta\b[^>]*property="og:updated_time"[^>]*>`)
	cacheBustRe     = regexp.MustCompile(`\?(v|t|_)=[^"'\s>]*`)
	whitespaceRunRe = regexp.MustCompile(`\s+`)
	interTagSpaceRe = regexp.MustCompile(`>\s+<`)
)

// Normalizer implements core.Normalizer.
type Normalizer struct{}

// New returns a Normalizer. It holds no state: normalization is a pure function.
func New() *Normalizer {
	return &Normalizer{}
}

// Normalize applies the §4.2 rules in order. Empty input returns the empty string.
func (n *Normalizer) Normalize(html string) string {
	if html == "" {
		return ""
	}

	out := html
	out = scriptRe.ReplaceAllString(out, "")
	out = noscriptRe.ReplaceAllString(out, "")
	out = commentRe.ReplaceAllString(out, "")

	out = isoDateTimeRe.ReplaceAllString(out, "[TIMESTAMP]")
	out = localDateRe.ReplaceAllString(out, "[TIMESTAMP]")
	out = unixMillisRe.ReplaceAllString(out, "[UNIX_TIMESTAMP]")

	out = classNameHashRe.ReplaceAllString(out, "__className_[HASH]")
	out = nextjsHashRe.ReplaceAllString(out, "__nextjs_[HASH]")
	out = idHashRe.ReplaceAllString(out, `id="[HASH]"`)
	out = classHashRe.ReplaceAllString(out, `class="[HASH_CLASS]"`)

	out = dataAttrRe.ReplaceAllString(out, "")
	out = ariaAttrRe.ReplaceAllString(out, "")
	out = inlineStyleRe.ReplaceAllString(out, "")
	out = metaCSRFRe.ReplaceAllString(out, "")
	out = metaOgUpdatedRe.ReplaceAllString(out, "")

	out = cacheBustRe.ReplaceAllString(out, "?[CACHE_BUST]")

	out = interTagSpaceRe.ReplaceAllString(out, "><")
	out = whitespaceRunRe.ReplaceAllString(out, " ")
	out = strings.TrimSpace(out)

	return out
}
