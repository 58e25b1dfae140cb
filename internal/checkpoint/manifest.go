package checkpoint

import (
	"crypto/sha256"
	"fmt"
	"time"
)

// Manifest records how a checkpoint was produced.
type Manifest struct {
	CorpusPath   string    `json:"corpus_path"`
	CorpusHash   string    `json:"corpus_hash"`
	CorpusLength int       `json:"corpus_length"`
	Kind         string    `json:"kind"`
	Hidden       int       `json:"hidden"`
	Layers       int       `json:"layers"`
	Dropout      float64   `json:"dropout"`
	Batch        int       `json:"batch"`
	SeqLength    int       `json:"seq_length"`
	Epochs       int       `json:"epochs"`
	LR           float64   `json:"lr"`
	Clip         float64   `json:"clip"`
	ValFrac      float64   `json:"val_frac"`
	EvalEvery    int       `json:"eval_every"`
	VocabSize    int       `json:"vocab_size"`
	Parameters   int       `json:"parameters"`
	Seed         int64     `json:"seed"`
	FinalLoss    float64   `json:"final_loss"`
	TrainedAt    time.Time `json:"trained_at"`
	BuildVersion string    `json:"build_version"`
}

// CorpusHash returns a short content hash used to tell corpora apart.
func CorpusHash(text string) string {
	return fmt.Sprintf("%x", sha256.Sum256([]byte(text)))[:16]
}
