package index

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "docindex/pkg/errors"
)

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"the", "quick", "brown", "fox"}, Tokenize("The quick, brown FOX!"))
	assert.Equal(t, []string{"año", "2024", "naïve"}, Tokenize("Año 2024 -- naïve"))
	assert.Equal(t, []string{"snake", "case"}, Tokenize("snake_case"))
	assert.Empty(t, Tokenize("  ...  "))
	assert.Equal(t, []string{"dog", "quick"}, queryTerms("quick dog QUICK"))
}

func TestBM25_Ranking(t *testing.T) {
	idx := newTestBM25(t)
	_, err := idx.Add([]*Document{
		textDoc("a", "the quick brown fox"),
		textDoc("b", "quick brown dogs"),
		textDoc("c", "lazy dog sleeps"),
	})
	require.NoError(t, err)

	hits, err := idx.Search(&Query{Text: "quick fox", K: 3})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, hitIDs(hits))
	assert.Greater(t, hits[0].Score, hits[1].Score)
	assert.Greater(t, hits[1].Score, 0.0)
	assert.Equal(t, 0.0, hits[2].Score)
}

func TestBM25_ScoreFormula(t *testing.T) {
	idx := newTestBM25(t)
	_, err := idx.Add([]*Document{
		textDoc("a", "the quick brown fox"),
		textDoc("b", "quick brown dogs"),
		textDoc("c", "lazy dog sleeps"),
	})
	require.NoError(t, err)

	// quick appears in 2 of 3 documents: log(1.5/2.5) < 0, floored to epsilon
	quick, ok := idx.IDF("quick")
	require.True(t, ok)
	assert.Equal(t, DEFAULT_EPSILON, quick)
	fox, _ := idx.IDF("fox")
	assert.InDelta(t, math.Log(2.5/1.5), fox, 1e-12)

	avg := 10.0 / 3.0
	norm := DEFAULT_K1 * (1 - DEFAULT_B + DEFAULT_B*4/avg)
	want := quick*(1*(DEFAULT_K1+1))/(1+norm) + fox*(1*(DEFAULT_K1+1))/(1+norm)

	hits, err := idx.Search(&Query{Text: "fox quick quick", K: 1})
	require.NoError(t, err)
	assert.InDelta(t, want, hits[0].Score, 1e-12)
}

func TestBM25_TermFrequency(t *testing.T) {
	idx := newTestBM25(t)
	_, err := idx.Add([]*Document{
		textDoc("once", "apple banana cherry date"),
		textDoc("twice", "apple apple cherry date"),
		textDoc("none", "elder fig grape honeydew"),
		textDoc("other", "kiwi lemon mango nectarine"),
	})
	require.NoError(t, err)

	hits, err := idx.Search(&Query{Text: "apple", K: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"twice", "once"}, hitIDs(hits))
}

func TestBM25_CorpusStatistics(t *testing.T) {
	idx := newTestBM25(t)
	batches := [][]*Document{
		{textDoc("d2", "red green blue"), textDoc("d1", "red red")},
		{textDoc("d3", "blue sky"), textDoc("d0", "green")},
	}
	for _, b := range batches {
		_, err := idx.Add(b)
		require.NoError(t, err)

		s := idx.state
		total := 0
		for _, l := range s.docLengths {
			total += l
		}
		assert.InDelta(t, float64(total)/float64(s.numDocs()), s.avgDocLength, 1e-12)

		for term, df := range s.docFreqs {
			count := 0
			for _, tokens := range s.docTokens {
				for _, tok := range tokens {
					if tok == term {
						count++
						break
					}
				}
			}
			assert.Equal(t, count, df, term)
			assert.Equal(t, uint64(df), s.postings[term].GetCardinality())
		}
	}

	// positions follow sorted ids regardless of insertion history
	for want, id := range []string{"d0", "d1", "d2", "d3"} {
		pos, ok := idx.PositionOf(id)
		require.True(t, ok)
		assert.Equal(t, int64(want), pos)
	}
	assert.Equal(t, 2, idx.DocFreq("blue"))

	// listing keeps first-insertion order
	docs, total := idx.List(0, 10)
	assert.Equal(t, 4, total)
	assert.Equal(t, "d2", docs[0].ID)
	assert.Equal(t, "d0", docs[3].ID)
}

func TestBM25_PermutationIdempotence(t *testing.T) {
	words := []string{"alpha", "beta", "gamma", "delta", "epsilon", "zeta", "eta", "theta"}
	r := rand.New(rand.NewPCG(5, 6))
	docs := make([]*Document, 20)
	for i := range docs {
		content := ""
		for j := 0; j < 3+r.IntN(5); j++ {
			content += words[r.IntN(len(words))] + " "
		}
		docs[i] = textDoc(string(rune('a'+i)), content)
	}
	queries := []string{"alpha beta", "theta", "gamma gamma delta", "zeta eta epsilon"}

	reference := newTestBM25(t)
	_, err := reference.Add(docs)
	require.NoError(t, err)

	for trial := 0; trial < 3; trial++ {
		shuffled := append([]*Document(nil), docs...)
		r.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

		idx := newTestBM25(t)
		// split into uneven batches
		_, err := idx.Add(shuffled[:7])
		require.NoError(t, err)
		_, err = idx.Add(shuffled[7:])
		require.NoError(t, err)

		assert.Equal(t, reference.state.docFreqs, idx.state.docFreqs)
		assert.Equal(t, reference.state.idf, idx.state.idf)
		assert.Equal(t, reference.state.docs.posToID, idx.state.docs.posToID)
		for _, q := range queries {
			want, err := reference.Search(&Query{Text: q, K: 10})
			require.NoError(t, err)
			got, err := idx.Search(&Query{Text: q, K: 10})
			require.NoError(t, err)
			assert.Equal(t, hitIDs(want), hitIDs(got), q)
			for i := range want {
				assert.Equal(t, want[i].Score, got[i].Score)
			}
		}
	}
}

func TestBM25_Errors(t *testing.T) {
	idx := newTestBM25(t)

	_, err := idx.Search(&Query{Text: "anything", K: 3})
	assert.ErrorIs(t, err, pkgerrors.ErrEmptyCorpus)

	_, err = idx.Add([]*Document{textDoc("a", "fine"), textDoc("b", "")})
	assert.ErrorIs(t, err, pkgerrors.ErrEmptyContent)
	assert.Equal(t, 0, idx.Len())

	_, err = idx.Add([]*Document{{ID: "v", Content: "text", Vector: []float32{1}}})
	assert.ErrorIs(t, err, pkgerrors.ErrBadParameter)

	_, err = idx.Add([]*Document{textDoc("a", "some words")})
	require.NoError(t, err)

	_, err = idx.Search(&Query{K: 3})
	assert.ErrorIs(t, err, pkgerrors.ErrMissingQueryText)
	_, err = idx.Search(&Query{Vector: []float32{1}, K: 3})
	assert.ErrorIs(t, err, pkgerrors.ErrQueryKindMismatch)
	_, err = idx.Search(&Query{Text: "words", K: 101})
	assert.ErrorIs(t, err, pkgerrors.ErrBadParameter)
}

func TestBM25_KLargerThanCorpusIsNotPadded(t *testing.T) {
	idx := newTestBM25(t)
	_, err := idx.Add([]*Document{textDoc("a", "one"), textDoc("b", "two")})
	require.NoError(t, err)

	hits, err := idx.Search(&Query{Text: "two", K: 10})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, hitIDs(hits))
}

func TestBM25_DuplicateIDOverwrites(t *testing.T) {
	idx := newTestBM25(t)
	_, err := idx.Add([]*Document{textDoc("a", "old text"), textDoc("b", "other")})
	require.NoError(t, err)
	_, err = idx.Add([]*Document{textDoc("a", "new words")})
	require.NoError(t, err)

	assert.Equal(t, 2, idx.Len())
	assert.Equal(t, 0, idx.DocFreq("old"))
	assert.Equal(t, 1, idx.DocFreq("new"))
	doc, err := idx.Get("a")
	require.NoError(t, err)
	assert.Equal(t, "new words", doc.Content)
}

func TestTopK(t *testing.T) {
	got := topK([]float64{0, 2, 1, 2, 0}, 4)
	assert.Equal(t, []scoredPos{{1, 2}, {3, 2}, {2, 1}, {0, 0}}, got)
	assert.Len(t, topK([]float64{1}, 5), 1)
}
