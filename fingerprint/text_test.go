package fingerprint

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finpulse/types"
)

func TestNormalizeText(t *testing.T) {
	assert.Equal(t, "hello world", NormalizeText("  Hello \n\t World "))
	assert.Equal(t, "rates rise again", NormalizeText("<p>Rates <b>rise</b></p><p>again</p>"))
	assert.Equal(t, "a & b", NormalizeText("A &amp; B"))
	assert.Equal(t, "visible", NormalizeText("<script>var x=1</script>visible"))
}

func TestNormalizeTitleStripsTags(t *testing.T) {
	assert.Equal(t, "央行降准", NormalizeTitle("【快讯】央行降准"))
	assert.Equal(t, "fed holds rates", NormalizeTitle("[Breaking] Fed holds rates"))
}

func TestContentHash(t *testing.T) {
	base := types.Draft{SourceID: "a", URL: "https://a.com/1", Title: "Fed Holds Rates", Body: "The Fed held rates."}

	t.Run("ignores source metadata", func(t *testing.T) {
		other := base
		other.SourceID = "b"
		other.URL = "https://b.com/x"
		other.SourceCategory = "macro"
		assert.Equal(t, ContentHash(base), ContentHash(other))
	})

	t.Run("ignores markup and case", func(t *testing.T) {
		other := base
		other.Title = "  fed   HOLDS rates"
		other.Body = "<p>The <i>Fed</i> held rates.</p>"
		assert.Equal(t, ContentHash(base), ContentHash(other))
	})

	t.Run("falls back to summary", func(t *testing.T) {
		a := types.Draft{Title: "T", Summary: "S"}
		b := types.Draft{Title: "T", Body: "S"}
		assert.Equal(t, ContentHash(a), ContentHash(b))
	})

	t.Run("order sensitive", func(t *testing.T) {
		a := types.Draft{Title: "T", Body: "one two"}
		b := types.Draft{Title: "T", Body: "two one"}
		assert.NotEqual(t, ContentHash(a), ContentHash(b))
	})

	t.Run("stable hex", func(t *testing.T) {
		h := ContentHash(base)
		require.Len(t, h, 64)
		assert.Equal(t, h, ContentHash(base))
	})
}

func TestEmbeddingInput(t *testing.T) {
	d := types.Draft{Title: "Title", Summary: "<b>Summary</b> text", Body: "body"}
	assert.Equal(t, "Title Summary text", EmbeddingInput(d, 0))

	d.Summary = ""
	assert.Equal(t, "Title body", EmbeddingInput(d, 0))

	long := types.Draft{Title: strings.Repeat("字", 20)}
	assert.Equal(t, strings.Repeat("字", 5), EmbeddingInput(long, 5))
}
