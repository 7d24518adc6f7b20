package normalizer_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ramfiaogusto/watchtower/internal/normalizer"
)

func TestNormalize_Empty(t *testing.T) {
	n := normalizer.New()
	assert.Equal(t, "", n.Normalize(""))
}

func TestNormalize_Idempotent(t *testing.T) {
	n := normalizer.New()
	html := `<html><body><!-- random --><h1 id="a1b2c3d4e5f6">v1</h1><script>console.log(Date.now())</script></body></html>`
	once := n.Normalize(html)
	twice := n.Normalize(once)
	assert.Equal(t, once, twice)
}

func TestNormalize_StripsScriptsAndComments(t *testing.T) {
	n := normalizer.New()
	a := n.Normalize(`<html><body><h1>v1</h1></body></html>`)
	b := n.Normalize(`<html><body><!-- random --><h1>v1</h1><script>console.log(Date.now())</script></body></html>`)
	assert.Equal(t, a, b)
}

func TestNormalize_CollapsesHashedIDsAndClasses(t *testing.T) {
	n := normalizer.New()
	a := n.Normalize(`<div id="deadbeef01">x</div>`)
	b := n.Normalize(`<div id="0011223344">x</div>`)
	assert.Equal(t, a, b)

	c := n.Normalize(`<div class="btn a1b2c3d4e5">x</div>`)
	d := n.Normalize(`<div class="btn ffee0011aa">x</div>`)
	assert.Equal(t, c, d)
}

func TestNormalize_RemovesDataAndAriaAttributes(t *testing.T) {
	n := normalizer.New()
	got := n.Normalize(`<div data-testid="hero" aria-describedby="tip1">x</div>`)
	assert.NotContains(t, got, "data-testid")
	assert.NotContains(t, got, "aria-describedby")
}

func TestNormalize_ReplacesCacheBustingQueryStrings(t *testing.T) {
	n := normalizer.New()
	a := n.Normalize(`<img src="a.png?v=123">`)
	b := n.Normalize(`<img src="a.png?v=456">`)
	assert.Equal(t, a, b)
}

func TestNormalize_CollapsesWhitespace(t *testing.T) {
	n := normalizer.New()
	got := n.Normalize("<div>  \n\n  hello   world  \n</div>")
	assert.Equal(t, "<div> hello world </div>", got)
}
