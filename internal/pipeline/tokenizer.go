package pipeline

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"unicode"
)

// Tokenizer turns text into fixed-length model inputs.
type Tokenizer interface {
	Encode(text string, maxTokens int) (ids []int64, mask []int64)
}

const maxWordChars = 100

// WordPiece is a BERT-style tokenizer: whitespace and punctuation split followed
// by greedy longest-match-first subword lookup.
type WordPiece struct {
	vocab     map[string]int64
	lowercase bool
	cls       int64
	sep       int64
	pad       int64
	unk       int64
}

// NewWordPiece builds a tokenizer over vocab. [CLS], [SEP] and [UNK] must be present.
func NewWordPiece(vocab map[string]int64, lowercase bool) (*WordPiece, error) {
	t := &WordPiece{vocab: vocab, lowercase: lowercase}
	var missing []string
	for tok, dst := range map[string]*int64{"[CLS]": &t.cls, "[SEP]": &t.sep, "[UNK]": &t.unk} {
		id, ok := vocab[tok]
		if !ok {
			missing = append(missing, tok)
			continue
		}
		*dst = id
	}
	if len(missing) > 0 {
		slices.Sort(missing)
		return nil, fmt.Errorf("vocab missing special tokens %v", missing)
	}
	// [PAD] is conventionally id 0 when absent.
	t.pad = vocab["[PAD]"]
	return t, nil
}

// Encode returns token ids and the attention mask, both exactly maxTokens long.
// Overlong input is truncated at the head so [SEP] always closes the sequence.
func (t *WordPiece) Encode(text string, maxTokens int) ([]int64, []int64) {
	if maxTokens < 2 {
		return nil, nil
	}

	ids := make([]int64, 0, maxTokens)
	ids = append(ids, t.cls)
	budget := maxTokens - 2

words:
	for _, w := range t.words(text) {
		for _, id := range t.pieces(w) {
			if len(ids)-1 >= budget {
				break words
			}
			ids = append(ids, id)
		}
	}
	ids = append(ids, t.sep)

	mask := make([]int64, maxTokens)
	for i := range ids {
		mask[i] = 1
	}
	for len(ids) < maxTokens {
		ids = append(ids, t.pad)
	}
	return ids, mask
}

// words splits on whitespace and isolates punctuation into single-rune words.
func (t *WordPiece) words(text string) []string {
	if t.lowercase {
		text = strings.ToLower(text)
	}
	var (
		out []string
		cur strings.Builder
	)
	flush := func() {
		if cur.Len() > 0 {
			out = append(out, cur.String())
			cur.Reset()
		}
	}
	for _, r := range text {
		switch {
		case unicode.IsSpace(r), unicode.IsControl(r):
			flush()
		case unicode.IsPunct(r), unicode.IsSymbol(r):
			flush()
			out = append(out, string(r))
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return out
}

func (t *WordPiece) pieces(word string) []int64 {
	if id, ok := t.vocab[word]; ok {
		return []int64{id}
	}
	runes := []rune(word)
	if len(runes) > maxWordChars {
		return []int64{t.unk}
	}

	var out []int64
	for start := 0; start < len(runes); {
		end := len(runes)
		found := false
		for ; end > start; end-- {
			sub := string(runes[start:end])
			if start > 0 {
				sub = "##" + sub
			}
			if id, ok := t.vocab[sub]; ok {
				out = append(out, id)
				found = true
				break
			}
		}
		if !found {
			return []int64{t.unk}
		}
		start = end
	}
	return out
}

// LoadVocab reads a vocab.txt file, one token per line, id = line number.
func LoadVocab(path string) (map[string]int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open vocab: %w", err)
	}
	defer f.Close()

	vocab := make(map[string]int64)
	sc := bufio.NewScanner(f)
	var idx int64
	for sc.Scan() {
		tok := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(tok) != "" {
			vocab[tok] = idx
		}
		idx++
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan vocab: %w", err)
	}
	if len(vocab) == 0 {
		return nil, errors.New("vocab is empty")
	}
	return vocab, nil
}

// loadVocabJSON reads the model.vocab map of a HuggingFace tokenizer.json (WordPiece models only).
func loadVocabJSON(path string) (map[string]int64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tokenizer.json: %w", err)
	}
	var raw struct {
		Model struct {
			Type  string           `json:"type"`
			Vocab map[string]int64 `json:"vocab"`
		} `json:"model"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode tokenizer.json: %w", err)
	}
	if typ := strings.TrimSpace(raw.Model.Type); typ != "" && !strings.EqualFold(typ, "WordPiece") {
		return nil, fmt.Errorf("tokenizer.json model type %q not supported", typ)
	}
	if len(raw.Model.Vocab) == 0 {
		return nil, errors.New("tokenizer.json missing vocab")
	}
	return raw.Model.Vocab, nil
}

// LoadTokenizer loads vocab.txt or tokenizer.json from dir (or dir/tokenizer).
func LoadTokenizer(dir string, lowercase bool) (*WordPiece, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("tokenizer dir is empty")
	}
	for _, p := range []string{
		filepath.Join(dir, "vocab.txt"),
		filepath.Join(dir, "tokenizer", "vocab.txt"),
	} {
		if _, err := os.Stat(p); err == nil {
			vocab, err := LoadVocab(p)
			if err != nil {
				return nil, err
			}
			return NewWordPiece(vocab, lowercase)
		}
	}
	for _, p := range []string{
		filepath.Join(dir, "tokenizer.json"),
		filepath.Join(dir, "tokenizer", "tokenizer.json"),
	} {
		if _, err := os.Stat(p); err == nil {
			vocab, err := loadVocabJSON(p)
			if err != nil {
				return nil, err
			}
			return NewWordPiece(vocab, lowercase)
		}
	}
	return nil, errors.New("tokenizer assets not found (vocab.txt or tokenizer.json)")
}

// TokenizeStage adds input_ids and attention_mask columns from a text column.
type TokenizeStage struct {
	Tokenizer Tokenizer
	InputCol  string
	MaxTokens int
}

func (s *TokenizeStage) Name() string { return "tokenize" }

func (s *TokenizeStage) Transform(_ context.Context, in Frame) (Frame, error) {
	if s.Tokenizer == nil {
		return Frame{}, errors.New("tokenizer not initialized")
	}
	if !in.Has(s.InputCol) {
		return Frame{}, fmt.Errorf("%w: %q", ErrNoSuchColumn, s.InputCol)
	}

	masks := make([][]int64, in.Len())
	i := 0
	out, err := in.WithColumn(ColInputIDs, func(r Row) (any, error) {
		text, err := stringCell(r, s.InputCol)
		if err != nil {
			return nil, err
		}
		ids, mask := s.Tokenizer.Encode(text, s.MaxTokens)
		if len(ids) != s.MaxTokens || len(mask) != s.MaxTokens {
			return nil, fmt.Errorf("tokenizer returned %d ids for max_tokens=%d", len(ids), s.MaxTokens)
		}
		masks[i] = mask
		i++
		return ids, nil
	})
	if err != nil {
		return Frame{}, err
	}

	j := 0
	return out.WithColumn(ColAttentionMask, func(Row) (any, error) {
		m := masks[j]
		j++
		return m, nil
	})
}
