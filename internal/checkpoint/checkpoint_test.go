package checkpoint

import (
	"errors"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"charrnn/internal/model"
	"charrnn/internal/vocab"
)

func trained(t *testing.T) (*model.Network, *vocab.Vocab) {
	t.Helper()
	v := vocab.Build("to be or not to be")
	net, err := model.New(model.Config{
		Kind:       model.KindLSTM,
		VocabSize:  v.Size(),
		HiddenSize: 6,
		NumLayers:  2,
		Dropout:    0.3,
	}, rand.New(rand.NewSource(2)))
	if err != nil {
		t.Fatal(err)
	}
	return net, v
}

func TestSaveLoadRestore(t *testing.T) {
	net, v := trained(t)
	path := filepath.Join(t.TempDir(), "model.gob")

	if err := Save(path, Capture(net, v)); err != nil {
		t.Fatal(err)
	}
	ck, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if ck.HiddenSize != 6 || ck.NumLayers != 2 || ck.Kind != model.KindLSTM {
		t.Errorf("unexpected structure %+v", ck)
	}

	got, gv, err := ck.Restore()
	if err != nil {
		t.Fatal(err)
	}
	defer got.Close()
	if got.Config() != net.Config() {
		t.Errorf("expected config %+v, got %+v", net.Config(), got.Config())
	}
	if string(gv.Chars()) != string(v.Chars()) {
		t.Errorf("expected vocabulary %q, got %q", string(v.Chars()), string(gv.Chars()))
	}
	for name, p := range net.Params() {
		want := p.Data().([]float64)
		have := got.Params()[name].Data().([]float64)
		for i := range want {
			if want[i] != have[i] {
				t.Fatalf("parameter %s differs at %d", name, i)
			}
		}
	}
}

func TestCaptureCopiesParameters(t *testing.T) {
	net, v := trained(t)
	ck := Capture(net, v)
	net.Params()["fc.b"].Data().([]float64)[0] = 123
	if ck.Params["fc.b"].Data[0] == 123 {
		t.Error("checkpoint shares memory with the live network")
	}
}

func TestRestoreShapeMismatch(t *testing.T) {
	net, v := trained(t)

	ck := Capture(net, v)
	ck.HiddenSize = 7
	if _, _, err := ck.Restore(); !errors.Is(err, model.ErrShapeMismatch) {
		t.Errorf("hidden size: expected ErrShapeMismatch, got %v", err)
	}

	ck = Capture(net, v)
	ck.Chars = append(ck.Chars, 'z')
	if _, _, err := ck.Restore(); !errors.Is(err, model.ErrShapeMismatch) {
		t.Errorf("vocabulary: expected ErrShapeMismatch, got %v", err)
	}

	ck = Capture(net, v)
	b := ck.Params["l0.wh_f"]
	b.Data = b.Data[1:]
	ck.Params["l0.wh_f"] = b
	if _, _, err := ck.Restore(); !errors.Is(err, model.ErrShapeMismatch) {
		t.Errorf("truncated blob: expected ErrShapeMismatch, got %v", err)
	}
}

func TestVerify(t *testing.T) {
	net, v := trained(t)
	ck := Capture(net, v)

	if err := ck.Verify(Expect{}); err != nil {
		t.Errorf("empty expectation: %v", err)
	}
	if err := ck.Verify(Expect{HiddenSize: 6, NumLayers: 2, VocabSize: v.Size()}); err != nil {
		t.Errorf("matching expectation: %v", err)
	}
	for _, exp := range []Expect{{HiddenSize: 512}, {NumLayers: 3}, {VocabSize: 99}} {
		if err := ck.Verify(exp); !errors.Is(err, model.ErrShapeMismatch) {
			t.Errorf("%+v: expected ErrShapeMismatch, got %v", exp, err)
		}
	}
}

func TestJSONRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.json")
	m := Manifest{CorpusHash: CorpusHash("abc"), Hidden: 6, Layers: 2, VocabSize: 3}
	if err := SaveJSON(path, m); err != nil {
		t.Fatal(err)
	}
	var got Manifest
	if err := LoadJSON(path, &got); err != nil {
		t.Fatal(err)
	}
	if got.CorpusHash != m.CorpusHash || got.Hidden != 6 || got.VocabSize != 3 {
		t.Errorf("unexpected manifest %+v", got)
	}
	if len(got.CorpusHash) != 16 {
		t.Errorf("expected a 16 character hash, got %q", got.CorpusHash)
	}
}

func TestJSONErrors(t *testing.T) {
	dir := t.TempDir()
	if err := SaveJSON(filepath.Join(dir, "missing", "m.json"), Manifest{}); err == nil {
		t.Error("expected an error writing into a missing directory")
	}
	if err := SaveJSON(filepath.Join(dir, "nan.json"), math.NaN()); err == nil {
		t.Error("expected an error encoding NaN")
	}
	bad := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(bad, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	var m Manifest
	if err := LoadJSON(bad, &m); err == nil {
		t.Error("expected an error decoding a corrupt file")
	}
}
