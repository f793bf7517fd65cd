package chunk

import (
	"strings"
	"testing"

	"litsearch/internal/models"

	"github.com/stretchr/testify/require"
)

func TestPositionsShortText(t *testing.T) {
	got, err := Positions("short text.", 100, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, 0, got[0].StartPos)
	require.Equal(t, 10, got[0].EndPos)
}

func TestPositionsEmpty(t *testing.T) {
	for _, text := range []string{"", "   ", "\n\t\n"} {
		got, err := Positions(text, 100, 10)
		require.NoError(t, err)
		require.Empty(t, got)
	}
}

func TestPositionsInvalidParams(t *testing.T) {
	_, err := Positions("text", 0, 10)
	require.Error(t, err)
	_, err = Positions("text", 100, 0)
	require.Error(t, err)
	_, err = Positions("text", 100, 100)
	require.Error(t, err)
	_, err = Positions("text", 100, 150)
	require.Error(t, err)
}

func TestPositionsSentenceScenario(t *testing.T) {
	text := "A. B. C. D."
	got, err := Positions(text, 5, 2)
	require.NoError(t, err)
	require.NotEmpty(t, got)

	covered := make([]bool, len(text))
	for i, p := range got {
		require.Equal(t, i, p.ChunkNo)
		require.LessOrEqual(t, p.Length(), 5)
		for j := p.StartPos; j <= p.EndPos; j++ {
			covered[j] = true
		}
		if i > 0 {
			prev := got[i-1]
			overlap := prev.EndPos - p.StartPos + 1
			require.GreaterOrEqual(t, overlap, 0)
			require.LessOrEqual(t, overlap, 2)
		}
	}
	for j, c := range covered {
		require.True(t, c, "index %d not covered", j)
	}
}

func TestPositionsCoverageLongText(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 200; i++ {
		b.WriteString("The quick brown fox jumps over the lazy dog. ")
	}
	text := b.String()
	got, err := Positions(text, 300, 50)
	require.NoError(t, err)
	require.Greater(t, len(got), 1)

	runes := []rune(text)
	covered := make([]bool, len(runes))
	prevStart := -1
	for _, p := range got {
		require.Greater(t, p.StartPos, prevStart, "start positions must advance")
		prevStart = p.StartPos
		require.LessOrEqual(t, p.Length(), 300)
		for j := p.StartPos; j <= p.EndPos; j++ {
			covered[j] = true
		}
	}
	for j := range covered {
		require.True(t, covered[j], "rune %d not covered", j)
	}
	require.Equal(t, len(runes)-1, got[len(got)-1].EndPos)
}

func TestPositionsPrefersSentenceBoundary(t *testing.T) {
	text := "First sentence here. Second sentence follows and keeps going for a while more."
	got, err := Positions(text, 40, 8)
	require.NoError(t, err)
	// First chunk should end on the period at index 19, not at the raw cut.
	require.Equal(t, 19, got[0].EndPos)
	require.Equal(t, byte('.'), text[got[0].EndPos])
}

func TestPositionsPrefersParagraphBreak(t *testing.T) {
	para1 := strings.Repeat("x", 60)
	para2 := strings.Repeat("y", 100)
	text := para1 + "\n\n" + para2
	got, err := Positions(text, 80, 10)
	require.NoError(t, err)
	require.Equal(t, 59, got[0].EndPos, "first chunk should stop before the blank line")
}

func TestPositionsNoPunctuationMakesProgress(t *testing.T) {
	text := strings.Repeat("a", 5000)
	got, err := Positions(text, 400, 80)
	require.NoError(t, err)
	for i := 1; i < len(got); i++ {
		require.Greater(t, got[i].StartPos, got[i-1].StartPos)
	}
	require.Equal(t, 4999, got[len(got)-1].EndPos)
}

func TestExtract(t *testing.T) {
	text := "hello world"
	got := Extract(text, models.ChunkPosition{StartPos: 0, EndPos: 4})
	require.Equal(t, "hello", got)
	require.Equal(t, "", Extract(text, models.ChunkPosition{StartPos: 8, EndPos: 30}))
}
