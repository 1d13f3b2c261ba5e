package checkpoints

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/tsawler/go-vision/model"
)

func newTestClassifier(t *testing.T, seed int64) *model.Classifier {
	t.Helper()
	clf, err := model.NewClassifier(model.Config{
		NumClasses: 8,
		ImageSize:  32,
		Dropout:    0.5,
		Seed:       seed,
	})
	if err != nil {
		t.Fatalf("NewClassifier failed: %v", err)
	}
	return clf
}

func TestSaveLoadRoundtrip(t *testing.T) {
	clf := newTestClassifier(t, 42)
	path := filepath.Join(t.TempDir(), "model.json")

	state := &TrainingState{Epoch: 3, LearningRate: 0.001, Optimizer: "adam", BestValAccuracy: 0.91}
	cp, err := FromModel(clf, []string{"cat", "dog"}, state)
	if err != nil {
		t.Fatalf("FromModel failed: %v", err)
	}
	if err := Save(path, cp); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Metadata.NumClasses != 8 || loaded.Metadata.ImageSize != 32 {
		t.Errorf("Metadata mismatch: %+v", loaded.Metadata)
	}
	if loaded.TrainingState == nil || loaded.TrainingState.Epoch != 3 {
		t.Errorf("Training state not preserved: %+v", loaded.TrainingState)
	}
	if len(loaded.Weights) != len(clf.Parameters().Names()) {
		t.Errorf("Expected %d weight tensors, got %d", len(clf.Parameters().Names()), len(loaded.Weights))
	}

	// Restoring into a differently seeded model must reproduce the saved
	// values exactly.
	other := newTestClassifier(t, 7)
	if err := loaded.Apply(other); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	want, _ := clf.Parameters().Data("head.fc1.weight")
	got, _ := other.Parameters().Data("head.fc1.weight")
	for i := range want {
		if want[i] != got[i] {
			t.Fatalf("Weight %d not restored: %g vs %g", i, want[i], got[i])
		}
	}
}

func TestApplyBackboneLeavesHead(t *testing.T) {
	source := newTestClassifier(t, 42)
	cp, err := FromModel(source, nil, nil)
	if err != nil {
		t.Fatalf("FromModel failed: %v", err)
	}

	target := newTestClassifier(t, 7)
	headBefore, _ := target.Parameters().Data("head.fc1.weight")
	headCopy := append([]float32(nil), headBefore...)

	loaded, err := cp.ApplyBackbone(target)
	if err != nil {
		t.Fatalf("ApplyBackbone failed: %v", err)
	}
	if loaded == 0 {
		t.Fatal("Expected backbone tensors to load")
	}

	conv1Src, _ := source.Parameters().Data("backbone.conv1.weight")
	conv1Dst, _ := target.Parameters().Data("backbone.conv1.weight")
	for i := range conv1Src {
		if conv1Src[i] != conv1Dst[i] {
			t.Fatalf("Backbone weight %d not loaded", i)
		}
	}

	headAfter, _ := target.Parameters().Data("head.fc1.weight")
	for i := range headCopy {
		if headCopy[i] != headAfter[i] {
			t.Fatalf("Head weight %d was overwritten", i)
		}
	}
}

func TestApplyShapeMismatch(t *testing.T) {
	clf := newTestClassifier(t, 42)
	cp, err := FromModel(clf, nil, nil)
	if err != nil {
		t.Fatalf("FromModel failed: %v", err)
	}
	cp.Weights[0].Shape = []int{1, 2, 3}

	if err := cp.Apply(newTestClassifier(t, 1)); err == nil {
		t.Error("Expected shape mismatch error")
	}
}

func TestLoadRejectsBadFiles(t *testing.T) {
	dir := t.TempDir()

	if _, err := Load(filepath.Join(dir, "missing.json")); err == nil {
		t.Error("Expected error for missing file")
	}

	corrupt := filepath.Join(dir, "corrupt.json")
	if err := os.WriteFile(corrupt, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(corrupt); err == nil {
		t.Error("Expected error for corrupt file")
	}

	versioned := filepath.Join(dir, "version.json")
	if err := os.WriteFile(versioned, []byte(`{"metadata":{"version":"9.9"},"weights":[{"name":"w"}]}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(versioned); err == nil {
		t.Error("Expected error for unknown version")
	}
}
