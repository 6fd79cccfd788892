package embedding

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"sync"
	"unicode"

	"github.com/clipperhouse/uax29/v2/words"
	"github.com/twmb/murmur3"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/unicode/norm"

	pkgerrors "docindex/pkg/errors"
	"docindex/pkg/logger"
)

const (
	vocabSize = 1 << 13
	clsID     = 0 // [CLS]
	// fraction of the neighbourhood mean mixed into each token state
	mixWeight = 0.5
)

// Pooling strategies.
const (
	PoolingMean = "mean"
	PoolingCLS  = "cls"
	PoolingMax  = "max"
)

// LocalOptions configures an in-process encoder.
type LocalOptions struct {
	Model        string
	Device       string
	Dimension    int
	MaxSeqLength int
	Pooling      string
	Normalize    bool
	BatchSize    int
}

// LocalEmbedder is a deterministic in-process sentence encoder. Tokens are
// hashed into a fixed vocabulary whose embedding table is derived from the
// model name, so the same model always yields the same vectors.
type LocalEmbedder struct {
	opts LocalOptions

	once  sync.Once
	table [][]float32 // vocabSize x Dimension
}

// NewLocalEmbedder checks the options; the embedding table is built on first use.
func NewLocalEmbedder(opts LocalOptions) (*LocalEmbedder, error) {
	if opts.Device == "" {
		opts.Device = "cpu"
	}
	if !strings.EqualFold(opts.Device, "cpu") {
		return nil, fmt.Errorf("%w: device %q is not available", pkgerrors.ErrBadParameter, opts.Device)
	}
	if opts.Dimension <= 0 {
		return nil, fmt.Errorf("%w: dimension must be positive", pkgerrors.ErrBadParameter)
	}
	if opts.MaxSeqLength <= 0 {
		return nil, fmt.Errorf("%w: max_seq_length must be positive", pkgerrors.ErrBadParameter)
	}
	switch opts.Pooling {
	case "":
		opts.Pooling = PoolingMean
	case PoolingMean, PoolingCLS, PoolingMax:
	default:
		return nil, fmt.Errorf("%w: unknown pooling %q", pkgerrors.ErrBadParameter, opts.Pooling)
	}
	return &LocalEmbedder{opts: opts}, nil
}

func (e *LocalEmbedder) load() {
	e.once.Do(func() {
		seed := murmur3.StringSum64(e.opts.Model)
		rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
		scale := float32(1 / math.Sqrt(float64(e.opts.Dimension)))
		table := make([][]float32, vocabSize)
		for i := range table {
			row := make([]float32, e.opts.Dimension)
			for j := range row {
				row[j] = float32(rng.NormFloat64()) * scale
			}
			table[i] = row
		}
		e.table = table
		logger.Info("Loaded local embedding model", "model", e.opts.Model,
			"dimension", e.opts.Dimension, "pooling", e.opts.Pooling)
	})
}

// tokenize normalises text and returns vocabulary ids, [CLS] first,
// truncated to the maximum sequence length.
func (e *LocalEmbedder) tokenize(text string) []uint32 {
	text = strings.ToLower(norm.NFKC.String(text))
	ids := []uint32{clsID}
	toks := words.FromString(text)
	for toks.Next() && len(ids) < e.opts.MaxSeqLength {
		tok := toks.Value()
		if !isWord(tok) {
			continue
		}
		ids = append(ids, 1+murmur3.StringSum32(tok)%(vocabSize-1))
	}
	return ids
}

func isWord(tok string) bool {
	for _, r := range tok {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

// forward returns the contextual token states and the attention mask for a
// batch padded to its longest sequence.
func (e *LocalEmbedder) forward(batch [][]uint32) ([][][]float32, [][]bool) {
	longest := 0
	for _, ids := range batch {
		longest = max(longest, len(ids))
	}
	dim := e.opts.Dimension
	states := make([][][]float32, len(batch))
	masks := make([][]bool, len(batch))
	for b, ids := range batch {
		hidden := make([][]float32, longest)
		mask := make([]bool, longest)
		for p := range hidden {
			hidden[p] = make([]float32, dim)
			if p >= len(ids) {
				continue
			}
			mask[p] = true
			row := e.table[ids[p]]
			for j := range hidden[p] {
				hidden[p][j] = row[j] + position(p, j, dim)
			}
		}
		mix(hidden[:len(ids)])
		states[b] = hidden
		masks[b] = mask
	}
	return states, masks
}

// position is the sinusoidal position signal, scaled down so that word
// identity dominates.
func position(p, j, dim int) float32 {
	angle := float64(p) / math.Pow(10000, float64(2*(j/2))/float64(dim))
	if j%2 == 0 {
		return float32(0.1 * math.Sin(angle))
	}
	return float32(0.1 * math.Cos(angle))
}

// mix blends every token with the mean of the sequence.
func mix(hidden [][]float32) {
	if len(hidden) < 2 {
		return
	}
	dim := len(hidden[0])
	mean := make([]float32, dim)
	for _, h := range hidden {
		for j, v := range h {
			mean[j] += v
		}
	}
	inv := 1 / float32(len(hidden))
	for _, h := range hidden {
		for j := range h {
			h[j] = (1-mixWeight)*h[j] + mixWeight*mean[j]*inv
		}
	}
}

// Encode implements Embedder. Batches run in parallel; output order matches
// input order.
func (e *LocalEmbedder) Encode(ctx context.Context, texts []string, batchSize int) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	if batchSize <= 0 {
		batchSize = e.opts.BatchSize
	}
	e.load()

	out := make([][]float32, len(texts))
	g, ctx := errgroup.WithContext(ctx)
	for _, r := range batches(len(texts), batchSize) {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			ids := make([][]uint32, r[1]-r[0])
			for i := range ids {
				ids[i] = e.tokenize(texts[r[0]+i])
			}
			states, masks := e.forward(ids)
			for i := range ids {
				vec := pool(states[i], masks[i], e.opts.Pooling)
				if e.opts.Normalize {
					l2Normalize(vec)
				}
				out[r[0]+i] = vec
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (e *LocalEmbedder) Dimension(context.Context) (int, error) { return e.opts.Dimension, nil }

func (e *LocalEmbedder) ModelName() string { return e.opts.Model }

func (e *LocalEmbedder) Backend() Backend { return BackendLocal }

func (e *LocalEmbedder) Close() error { return nil }
