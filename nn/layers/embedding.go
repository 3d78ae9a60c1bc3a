package layers

import (
	"fmt"
	"math"
	"strings"

	"converter_lib/tensor"

	"golang.org/x/exp/rand"
)

// PEType selects the positional encoding added to token embeddings.
type PEType int

const (
	PENone PEType = iota
	PESinusoidal
	PELearned
	PEConditional
)

var peNames = [...]string{
	PENone:        "none",
	PESinusoidal:  "spe",
	PELearned:     "lpe",
	PEConditional: "cpe",
}

func (p PEType) String() string {
	if p >= 0 && int(p) < len(peNames) {
		return peNames[p]
	}
	return fmt.Sprintf("PEType(%d)", int(p))
}

// ParsePEType maps a config name (none, spe, lpe, cpe) to its PEType.
func ParsePEType(name string) (PEType, error) {
	for i, n := range peNames {
		if strings.EqualFold(n, name) {
			return PEType(i), nil
		}
	}
	return 0, fmt.Errorf("%w: unknown pe_type %q", ErrInvalidConfig, name)
}

// cpeKernel is the width of the depthwise conditional-position convolution.
const cpeKernel = 3

// Embedding looks up token vectors and adds a positional encoding, then
// applies dropout. Input ids are [B, L]; output is [B, L, D].
type Embedding struct {
	Tokens *Param // [vocab, D]
	PE     PEType
	Pos    *Param         // lpe: [max_len, D]
	PosW   *Param         // cpe: depthwise kernel [D, 3]
	PosB   *Param         // cpe: [D]
	table  *tensor.Tensor // spe: fixed [max_len, D]
	Drop   *Dropout

	vocab, maxLen, dim int
	cache              Cache[*embedState]
}

type embedState struct {
	ids *tensor.IntTensor
	tok *tensor.Tensor // token rows before the positional term, for cpe
}

func NewEmbedding(pe PEType, vocab, maxLen, dim int, dropProb float64, rng *rand.Rand) (*Embedding, error) {
	if vocab <= 0 || maxLen <= 0 || dim <= 0 {
		return nil, fmt.Errorf("%w: embedding needs positive vocab, length and dim, got %d, %d, %d", ErrInvalidConfig, vocab, maxLen, dim)
	}
	drop, err := NewDropout(dropProb, rng)
	if err != nil {
		return nil, err
	}
	e := &Embedding{PE: pe, Drop: drop, vocab: vocab, maxLen: maxLen, dim: dim}
	e.Tokens = NewParam("token", vocab, dim)
	StandardNormal(e.Tokens, rng)

	switch pe {
	case PENone:
	case PESinusoidal:
		e.table = sinusoidTable(maxLen, dim)
	case PELearned:
		e.Pos = NewParam("position", maxLen, dim)
		fillNormal(e.Pos.Value.Data, 0.02, rng)
	case PEConditional:
		e.PosW = NewParam("position.weight", dim, cpeKernel)
		e.PosB = NewParam("position.bias", dim)
		FanInUniform(e.PosW, cpeKernel, rng)
		FanInUniform(e.PosB, cpeKernel, rng)
	default:
		return nil, fmt.Errorf("%w: unknown pe_type %d", ErrInvalidConfig, int(pe))
	}
	return e, nil
}

func sinusoidTable(maxLen, dim int) *tensor.Tensor {
	t := tensor.New(maxLen, dim)
	for p := 0; p < maxLen; p++ {
		for i := 0; i < dim; i += 2 {
			angle := float64(p) / math.Pow(10000, float64(i)/float64(dim))
			t.Data[p*dim+i] = math.Sin(angle)
			if i+1 < dim {
				t.Data[p*dim+i+1] = math.Cos(angle)
			}
		}
	}
	return t
}

func (e *Embedding) SetTraining(training bool) { e.Drop.SetTraining(training) }

// Dim returns the embedding width.
func (e *Embedding) Dim() int { return e.dim }

func (e *Embedding) Forward(x interface{}) (interface{}, error) {
	ids, ok := x.(*tensor.IntTensor)
	if !ok {
		return nil, &TypeError{"input must be *tensor.IntTensor"}
	}
	return e.ForwardIDs(ids)
}

// ForwardIDs embeds a [B, L] batch of token ids.
func (e *Embedding) ForwardIDs(ids *tensor.IntTensor) (*tensor.Tensor, error) {
	if len(ids.Shape) != 2 {
		return nil, fmt.Errorf("%w: embedding expects [B, L] ids, got %v", ErrShapeMismatch, ids.Shape)
	}
	B, L, D := ids.Shape[0], ids.Shape[1], e.dim
	if L > e.maxLen {
		return nil, fmt.Errorf("%w: sequence length %d exceeds max_seq_len %d", ErrShapeMismatch, L, e.maxLen)
	}
	tok := tensor.New(B, L, D)
	for i, id := range ids.Data {
		if id < 0 || id >= e.vocab {
			return nil, fmt.Errorf("%w: token id %d outside vocabulary of %d", ErrShapeMismatch, id, e.vocab)
		}
		copy(tok.Data[i*D:(i+1)*D], e.Tokens.Value.Data[id*D:(id+1)*D])
	}

	out := tok.Clone()
	switch e.PE {
	case PESinusoidal, PELearned:
		pos := e.table
		if e.PE == PELearned {
			pos = e.Pos.Value
		}
		for b := 0; b < B; b++ {
			for l := 0; l < L; l++ {
				row := out.Data[(b*L+l)*D : (b*L+l+1)*D]
				src := pos.Data[l*D : (l+1)*D]
				for d := range row {
					row[d] += src[d]
				}
			}
		}
	case PEConditional:
		w, bias := e.PosW.Value.Data, e.PosB.Value.Data
		for b := 0; b < B; b++ {
			for l := 0; l < L; l++ {
				for d := 0; d < D; d++ {
					acc := bias[d]
					for j := 0; j < cpeKernel; j++ {
						src := l + j - cpeKernel/2
						if src < 0 || src >= L {
							continue
						}
						acc += w[d*cpeKernel+j] * tok.Data[(b*L+src)*D+d]
					}
					out.Data[(b*L+l)*D+d] += acc
				}
			}
		}
	}
	e.cache.Push(&embedState{ids: ids, tok: tok})
	return e.Drop.ForwardPlain(out), nil
}

// Backward accumulates table gradients. Token ids have no gradient, so it
// returns nil on success.
func (e *Embedding) Backward(gradOut interface{}) (interface{}, error) {
	g, ok := gradOut.(*tensor.Tensor)
	if !ok {
		return nil, ErrType
	}
	return nil, e.BackwardPlain(g)
}

func (e *Embedding) BackwardPlain(g *tensor.Tensor) error {
	st, err := e.cache.Pop()
	if err != nil {
		return fmt.Errorf("Embedding: %w", err)
	}
	if len(g.Data) != len(st.tok.Data) {
		return fmt.Errorf("%w: Embedding grad has %d elements, want %d", ErrShapeMismatch, len(g.Data), len(st.tok.Data))
	}
	g, err = e.Drop.BackwardPlain(g)
	if err != nil {
		return err
	}
	B, L, D := st.ids.Shape[0], st.ids.Shape[1], e.dim

	// The token term receives g directly plus, for cpe, the convolution adjoint.
	gTok := g
	switch e.PE {
	case PELearned:
		for b := 0; b < B; b++ {
			for l := 0; l < L; l++ {
				dst := e.Pos.Grad.Data[l*D : (l+1)*D]
				src := g.Data[(b*L+l)*D : (b*L+l+1)*D]
				for d := range dst {
					dst[d] += src[d]
				}
			}
		}
	case PEConditional:
		gTok = g.Clone()
		w, dw, db := e.PosW.Value.Data, e.PosW.Grad.Data, e.PosB.Grad.Data
		for b := 0; b < B; b++ {
			for l := 0; l < L; l++ {
				for d := 0; d < D; d++ {
					gi := g.Data[(b*L+l)*D+d]
					db[d] += gi
					for j := 0; j < cpeKernel; j++ {
						src := l + j - cpeKernel/2
						if src < 0 || src >= L {
							continue
						}
						si := (b*L+src)*D + d
						dw[d*cpeKernel+j] += gi * st.tok.Data[si]
						gTok.Data[si] += gi * w[d*cpeKernel+j]
					}
				}
			}
		}
	}

	for i, id := range st.ids.Data {
		dst := e.Tokens.Grad.Data[id*D : (id+1)*D]
		src := gTok.Data[i*D : (i+1)*D]
		for d := range dst {
			dst[d] += src[d]
		}
	}
	return nil
}

func (e *Embedding) Params() []*Param {
	ps := []*Param{e.Tokens}
	switch e.PE {
	case PELearned:
		ps = append(ps, e.Pos)
	case PEConditional:
		ps = append(ps, e.PosW, e.PosB)
	}
	return ps
}

func (e *Embedding) ResetCache() {
	e.cache.Reset()
	e.Drop.ResetCache()
}

func (e *Embedding) Tag() string {
	return fmt.Sprintf("Embedding_%d_%s", e.dim, e.PE)
}
