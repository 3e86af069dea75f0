package filter

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func suffix(s string) Func {
	return func(url string) string { return url + s }
}

func TestChainAppliesInRegistrationOrder(t *testing.T) {
	c := New()
	c.Add(suffix("/a"))
	c.Add(suffix("/b"))
	c.Add(strings.ToUpper)

	assert.Equal(t, "HTTP://X/A/B", c.Apply("http://x"))
	assert.Equal(t, 3, c.Count())
}

func TestChainIgnoresNilFilter(t *testing.T) {
	c := New(nil, suffix("?x=1"), nil)
	c.Add(nil)

	assert.Equal(t, 1, c.Count())
	assert.Equal(t, "u?x=1", c.Apply("u"))
}

func TestChainRemoveLastOnEmpty(t *testing.T) {
	c := New()
	require.NotPanics(t, c.RemoveLast)
	assert.Equal(t, 0, c.Count())
	assert.Equal(t, "u", c.Apply("u"))
}

func TestChainClear(t *testing.T) {
	c := New(suffix("1"), suffix("2"))
	c.Clear()
	assert.Equal(t, 0, c.Count())
	assert.Equal(t, "u", c.Apply("u"))

	c.Add(suffix("3"))
	assert.Equal(t, "u3", c.Apply("u"))
}

func TestChainApplyLeavesChainUntouched(t *testing.T) {
	c := New(suffix("1"))
	c.Apply("a")
	c.Apply("b")
	assert.Equal(t, 1, c.Count())
}

func TestChainFiltersSnapshot(t *testing.T) {
	c := New(suffix("1"))
	snapshot := c.Filters()
	c.Add(suffix("2"))
	assert.Len(t, snapshot, 1)
	assert.Equal(t, 2, c.Count())
}

func TestNilChainApplyIsIdentity(t *testing.T) {
	var c *Chain
	assert.Equal(t, "u", c.Apply("u"))
}

func TestChainFilterPanicPropagates(t *testing.T) {
	c := New(func(string) string { panic("bad filter") })
	assert.PanicsWithValue(t, "bad filter", func() { c.Apply("u") })
}

// Composition follows registration order, and RemoveLast skips exactly the
// transform that was added last.
func TestChainCompositionProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		tokens := rapid.SliceOfN(rapid.StringMatching(`[a-z0-9]{1,6}`), 0, 12).Draw(t, "tokens")
		base := rapid.StringMatching(`https://ads\.example\.com/[a-z]{0,8}`).Draw(t, "url")

		c := New()
		want := base
		for i, tok := range tokens {
			c.Add(suffix(fmt.Sprintf("/%d-%s", i, tok)))
			want += fmt.Sprintf("/%d-%s", i, tok)
		}

		if got := c.Apply(base); got != want {
			t.Fatalf("apply mismatch: got %q want %q", got, want)
		}

		if len(tokens) == 0 {
			c.RemoveLast()
			assert.Equal(t, 0, c.Count())
			return
		}

		last := len(tokens) - 1
		c.RemoveLast()
		trimmed := strings.TrimSuffix(want, fmt.Sprintf("/%d-%s", last, tokens[last]))
		if got := c.Apply(base); got != trimmed {
			t.Fatalf("after RemoveLast: got %q want %q", got, trimmed)
		}
		assert.Equal(t, last, c.Count())
	})
}
