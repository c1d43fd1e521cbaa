package local

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"unicode"
)

// MaxSequenceLength is the sequence length MiniLM models are trained with.
const MaxSequenceLength = 128

// Tokenizer performs BERT-style WordPiece tokenization using the vocabulary
// of a Hugging Face tokenizer.json.
type Tokenizer struct {
	vocab map[string]int
	cls   int
	sep   int
	unk   int
	pad   int
}

// LoadTokenizer reads the WordPiece vocabulary from tokenizer.json.
func LoadTokenizer(path string) (*Tokenizer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tokenizer: %w", err)
	}

	var file struct {
		Model struct {
			Vocab map[string]int `json:"vocab"`
		} `json:"model"`
	}
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse tokenizer: %w", err)
	}
	if len(file.Model.Vocab) == 0 {
		return nil, fmt.Errorf("tokenizer %s has no vocabulary", path)
	}
	return NewTokenizer(file.Model.Vocab), nil
}

// NewTokenizer builds a tokenizer from a vocabulary. Special tokens missing
// from the vocabulary use the standard BERT ids.
func NewTokenizer(vocab map[string]int) *Tokenizer {
	lookup := func(tok string, def int) int {
		if id, ok := vocab[tok]; ok {
			return id
		}
		return def
	}
	return &Tokenizer{
		vocab: vocab,
		pad:   lookup("[PAD]", 0),
		unk:   lookup("[UNK]", 100),
		cls:   lookup("[CLS]", 101),
		sep:   lookup("[SEP]", 102),
	}
}

// Tokenize converts text to WordPiece token ids without special tokens.
func (t *Tokenizer) Tokenize(text string) []int64 {
	var ids []int64
	for _, word := range basicTokens(text) {
		if id, ok := t.vocab[word]; ok {
			ids = append(ids, int64(id))
			continue
		}
		ids = append(ids, t.wordPiece(word)...)
	}
	return ids
}

// Encoding is a fixed-length model input.
type Encoding struct {
	InputIDs      []int64
	AttentionMask []int64
	TokenTypeIDs  []int64
}

// Encode wraps the tokens in [CLS] ... [SEP], truncating and padding to
// maxLen.
func (t *Tokenizer) Encode(text string, maxLen int) Encoding {
	if maxLen < 2 {
		maxLen = 2
	}
	tokens := t.Tokenize(text)
	if len(tokens) > maxLen-2 {
		tokens = tokens[:maxLen-2]
	}

	enc := Encoding{
		InputIDs:      make([]int64, maxLen),
		AttentionMask: make([]int64, maxLen),
		TokenTypeIDs:  make([]int64, maxLen),
	}
	for i := range enc.InputIDs {
		enc.InputIDs[i] = int64(t.pad)
	}

	enc.InputIDs[0] = int64(t.cls)
	enc.AttentionMask[0] = 1
	for i, id := range tokens {
		enc.InputIDs[i+1] = id
		enc.AttentionMask[i+1] = 1
	}
	end := len(tokens) + 1
	enc.InputIDs[end] = int64(t.sep)
	enc.AttentionMask[end] = 1
	return enc
}

// wordPiece splits a word into the longest matching vocabulary pieces.
// A word with any unmatched remainder becomes a single [UNK].
func (t *Tokenizer) wordPiece(word string) []int64 {
	runes := []rune(word)
	var ids []int64
	for start := 0; start < len(runes); {
		end := len(runes)
		matched := -1
		for end > start {
			piece := string(runes[start:end])
			if start > 0 {
				piece = "##" + piece
			}
			if id, ok := t.vocab[piece]; ok {
				matched = id
				break
			}
			end--
		}
		if matched < 0 {
			return []int64{int64(t.unk)}
		}
		ids = append(ids, int64(matched))
		start = end
	}
	return ids
}

// basicTokens lowercases text, splits on whitespace and isolates
// punctuation.
func basicTokens(text string) []string {
	var out []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			out = append(out, cur.String())
			cur.Reset()
		}
	}
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.IsSpace(r):
			flush()
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			flush()
			out = append(out, string(r))
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return out
}
