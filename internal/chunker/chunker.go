package chunker

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"

	"github.com/yungbote/graphsmith-backend/internal/types"
)

const DefaultEncoding = "cl100k_base"

// Options controls chunk sizing. Overlap must be >= 0 and strictly less
// than MaxTokens so every window makes forward progress.
type Options struct {
	MaxTokens     int
	OverlapTokens int
	Encoding      string
}

// Splitter converts raw document text into ordered, token-bounded chunks.
// Splitting is a pure function of (text, options): the same input always
// reproduces identical boundaries, which is what makes chunk positions a
// safe resume cursor.
type Splitter struct {
	opts  Options
	codec codec
}

type codec interface {
	split(text string) []string
}

func New(opts Options) (*Splitter, error) {
	if opts.MaxTokens <= 0 {
		return nil, fmt.Errorf("chunker: MaxTokens must be positive, got %d", opts.MaxTokens)
	}
	if opts.OverlapTokens < 0 || opts.OverlapTokens >= opts.MaxTokens {
		return nil, fmt.Errorf("chunker: overlap %d must be in [0, %d)", opts.OverlapTokens, opts.MaxTokens)
	}
	if opts.Encoding == "" {
		opts.Encoding = DefaultEncoding
	}
	return &Splitter{opts: opts, codec: newCodec(opts.Encoding)}, nil
}

// Split returns the ordered chunk sequence for text. Empty or
// whitespace-only text yields zero chunks. Text shorter than MaxTokens
// yields exactly one chunk.
func (s *Splitter) Split(text string) ([]types.Chunk, error) {
	text = Scrub(text)
	if text == "" {
		return nil, nil
	}

	pieces := s.codec.split(text)
	if len(pieces) == 0 {
		return nil, nil
	}

	stride := s.opts.MaxTokens - s.opts.OverlapTokens
	var chunks []types.Chunk
	// Char offset of each piece start, so windows map back into the text.
	offsets := make([]int, len(pieces)+1)
	for i, p := range pieces {
		offsets[i+1] = offsets[i] + len(p)
	}

	position := 0
	for start := 0; start < len(pieces); start += stride {
		end := start + s.opts.MaxTokens
		if end > len(pieces) {
			end = len(pieces)
		}
		position++
		body := strings.Join(pieces[start:end], "")
		chunks = append(chunks, types.Chunk{
			ID:        chunkID(position, body),
			Position:  position,
			Text:      body,
			Tokens:    end - start,
			CharStart: offsets[start],
			CharEnd:   offsets[end],
		})
		if end == len(pieces) {
			break
		}
	}
	return chunks, nil
}

// CountTokens reports the token length of text under the splitter's codec,
// used to keep combined extraction windows inside the LLM context budget.
func (s *Splitter) CountTokens(text string) int {
	return len(s.codec.split(text))
}

// Scrub normalizes raw source text before chunking: newlines become spaces
// and stray quote characters are removed, mirroring the cleanup the
// extraction prompt expects.
func Scrub(text string) string {
	r := strings.NewReplacer("\n", " ", "\r", " ", `"`, "", "'", "")
	return strings.TrimSpace(r.Replace(text))
}

func chunkID(position int, text string) string {
	h := sha1.Sum([]byte(fmt.Sprintf("%d:%s", position, text)))
	return hex.EncodeToString(h[:])
}

// newCodec prefers the real BPE encoding; when the encoding data cannot be
// loaded (offline deployments), it falls back to a deterministic
// word-granularity approximation.
func newCodec(encoding string) codec {
	if enc, err := tiktoken.GetEncoding(encoding); err == nil && enc != nil {
		return &bpeCodec{enc: enc}
	}
	return wordCodec{}
}

type bpeCodec struct {
	enc *tiktoken.Tiktoken
}

func (c *bpeCodec) split(text string) []string {
	ids := c.enc.Encode(text, nil, nil)
	pieces := make([]string, 0, len(ids))
	for _, id := range ids {
		pieces = append(pieces, c.enc.Decode([]int{id}))
	}
	return pieces
}

// wordCodec treats each whitespace-delimited word (with its trailing space)
// as one token. Coarser than BPE but stable, which is all resumability needs.
type wordCodec struct{}

func (wordCodec) split(text string) []string {
	var pieces []string
	var b strings.Builder
	for _, r := range text {
		b.WriteRune(r)
		if r == ' ' {
			pieces = append(pieces, b.String())
			b.Reset()
		}
	}
	if b.Len() > 0 {
		pieces = append(pieces, b.String())
	}
	return pieces
}
