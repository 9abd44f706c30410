//go:build onnx

// Package onnx provides a local embedder backed by ONNX Runtime running
// a sentence-transformer model such as all-MiniLM-L6-v2. It exists so
// the engine can run fully offline; hosts with an embedding API swap in
// their own core.Embedder.
package onnx

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strings"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/solenoidlabs/recall/core"
)

const (
	maxSequenceLength = 128

	clsTokenID = 101
	sepTokenID = 102
	unkTokenID = 100
)

// Config configures the ONNX embedder.
type Config struct {
	// ModelPath points at the .onnx model file.
	ModelPath string

	// TokenizerPath points at the HuggingFace tokenizer.json.
	TokenizerPath string

	// RuntimeLibrary is the path to libonnxruntime; empty uses the
	// library's platform default.
	RuntimeLibrary string

	// ModelID names the model in record metadata.
	ModelID string

	// Dimensions is the output vector size (default 384).
	Dimensions int
}

// Embedder implements core.Embedder on a local ONNX session.
type Embedder struct {
	session    *ort.DynamicAdvancedSession
	vocab      map[string]int
	modelID    string
	dimensions int
}

// New loads the tokenizer and creates an inference session.
func New(cfg Config) (*Embedder, error) {
	if cfg.ModelPath == "" {
		return nil, fmt.Errorf("onnx embedder: ModelPath is required")
	}
	if cfg.Dimensions == 0 {
		cfg.Dimensions = 384
	}
	if cfg.ModelID == "" {
		cfg.ModelID = "all-MiniLM-L6-v2"
	}

	if cfg.RuntimeLibrary != "" {
		ort.SetSharedLibraryPath(cfg.RuntimeLibrary)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("onnx embedder: initialize runtime: %w", err)
	}

	vocab, err := loadVocab(cfg.TokenizerPath)
	if err != nil {
		return nil, fmt.Errorf("onnx embedder: load tokenizer: %w", err)
	}

	session, err := ort.NewDynamicAdvancedSession(cfg.ModelPath,
		[]string{"input_ids", "attention_mask", "token_type_ids"},
		[]string{"last_hidden_state"},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("onnx embedder: create session: %w", err)
	}

	return &Embedder{
		session:    session,
		vocab:      vocab,
		modelID:    cfg.ModelID,
		dimensions: cfg.Dimensions,
	}, nil
}

// Embed tokenizes text, runs inference and mean-pools the hidden states
// into a unit vector.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	inputIDs, attentionMask := e.encode(text)
	tokenTypeIDs := make([]int64, maxSequenceLength)

	shape := ort.NewShape(1, int64(maxSequenceLength))
	tensors := make([]ort.Value, 0, 3)
	for _, data := range [][]int64{inputIDs, attentionMask, tokenTypeIDs} {
		t, err := ort.NewTensor(shape, data)
		if err != nil {
			for _, prev := range tensors {
				prev.Destroy()
			}
			return nil, fmt.Errorf("onnx embedder: create tensor: %w", err)
		}
		tensors = append(tensors, t)
	}
	defer func() {
		for _, t := range tensors {
			t.Destroy()
		}
	}()

	outputs := []ort.Value{nil}
	if err := e.session.Run(tensors, outputs); err != nil {
		return nil, fmt.Errorf("onnx embedder: inference: %w", err)
	}
	defer func() {
		for _, o := range outputs {
			if o != nil {
				o.Destroy()
			}
		}
	}()

	hidden, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("onnx embedder: unexpected output tensor type")
	}
	return e.meanPool(hidden, attentionMask)
}

// ModelInfo identifies the loaded model.
func (e *Embedder) ModelInfo() core.ModelInfo {
	return core.ModelInfo{ID: e.modelID, Dimensions: e.dimensions}
}

// Close releases the inference session.
func (e *Embedder) Close() error {
	if e.session != nil {
		return e.session.Destroy()
	}
	return nil
}

// encode performs greedy WordPiece tokenization into a fixed-length
// input, wrapped in [CLS] ... [SEP].
func (e *Embedder) encode(text string) (inputIDs, attentionMask []int64) {
	inputIDs = make([]int64, maxSequenceLength)
	attentionMask = make([]int64, maxSequenceLength)

	pos := 0
	write := func(id int64) {
		if pos < maxSequenceLength {
			inputIDs[pos] = id
			attentionMask[pos] = 1
			pos++
		}
	}
	write(clsTokenID)

	for _, word := range strings.Fields(strings.ToLower(text)) {
		if pos >= maxSequenceLength-1 {
			break
		}
		for _, id := range e.wordPiece(word) {
			write(id)
		}
	}

	if pos >= maxSequenceLength {
		pos = maxSequenceLength - 1
	}
	inputIDs[pos] = sepTokenID
	attentionMask[pos] = 1
	return inputIDs, attentionMask
}

// wordPiece splits a word into the longest vocabulary subwords,
// falling back to [UNK] when nothing matches.
func (e *Embedder) wordPiece(word string) []int64 {
	var ids []int64
	start := 0
	for start < len(word) {
		end := len(word)
		found := -1
		for end > start {
			sub := word[start:end]
			if start > 0 {
				sub = "##" + sub
			}
			if id, ok := e.vocab[sub]; ok {
				found = id
				break
			}
			end--
		}
		if found < 0 {
			return []int64{unkTokenID}
		}
		ids = append(ids, int64(found))
		start = end
	}
	return ids
}

// meanPool averages hidden states over attended tokens and normalizes.
func (e *Embedder) meanPool(hidden *ort.Tensor[float32], attentionMask []int64) ([]float32, error) {
	shape := hidden.GetShape()
	if len(shape) != 3 || shape[2] != int64(e.dimensions) {
		return nil, fmt.Errorf("onnx embedder: unexpected output shape %v", shape)
	}
	data := hidden.GetData()
	seqLen := int(shape[1])

	out := make([]float32, e.dimensions)
	var attended float32
	for i := 0; i < seqLen && i < len(attentionMask); i++ {
		if attentionMask[i] == 0 {
			continue
		}
		attended++
		offset := i * e.dimensions
		for j := 0; j < e.dimensions; j++ {
			out[j] += data[offset+j]
		}
	}
	if attended == 0 {
		return out, nil
	}

	var norm float64
	for j := range out {
		out[j] /= attended
		norm += float64(out[j]) * float64(out[j])
	}
	if norm > 0 {
		n := float32(math.Sqrt(norm))
		for j := range out {
			out[j] /= n
		}
	}
	return out, nil
}

// loadVocab reads the WordPiece vocabulary out of tokenizer.json.
func loadVocab(path string) (map[string]int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc struct {
		Model struct {
			Vocab map[string]int `json:"vocab"`
		} `json:"model"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if len(doc.Model.Vocab) == 0 {
		return nil, fmt.Errorf("empty vocabulary in %s", path)
	}
	return doc.Model.Vocab, nil
}
