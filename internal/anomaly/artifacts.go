package anomaly

import (
	"encoding/json"
	"os"
	"path/filepath"

	"codeberg.org/mutker/hwsentry/internal/errors"
	"github.com/google/uuid"
)

const (
	defaultDirPerm  = 0o755
	defaultFilePerm = 0o644

	defaultModelFile  = "hardware_health_model.json"
	defaultScalerFile = "hardware_metrics_scaler.json"
)

// FileArtifactStore keeps artifacts as JSON files in one directory.
type FileArtifactStore struct {
	dir string
}

func NewFileArtifactStore(dir string) *FileArtifactStore {
	return &FileArtifactStore{dir: dir}
}

// Save writes a uniquely named model/scaler pair. A pair that fails halfway
// is removed again.
func (s *FileArtifactStore) Save(forest *Forest, scaler *Scaler) (Artifacts, error) {
	errFactory := errors.New()

	if err := os.MkdirAll(s.dir, defaultDirPerm); err != nil {
		return Artifacts{}, errFactory.Wrap(ErrArtifactWrite, err)
	}

	id := uuid.NewString()
	refs := Artifacts{
		ModelRef:  filepath.Join(s.dir, "model-"+id+".json"),
		ScalerRef: filepath.Join(s.dir, "scaler-"+id+".json"),
	}

	if err := writeJSONAtomic(refs.ModelRef, forest); err != nil {
		return Artifacts{}, err
	}
	if err := writeJSONAtomic(refs.ScalerRef, scaler); err != nil {
		os.Remove(refs.ModelRef)
		return Artifacts{}, err
	}

	return refs, nil
}

// Promote copies a saved pair to the default location.
func (s *FileArtifactStore) Promote(refs Artifacts) error {
	errFactory := errors.New()

	copies := []struct{ from, to string }{
		{refs.ModelRef, filepath.Join(s.dir, defaultModelFile)},
		{refs.ScalerRef, filepath.Join(s.dir, defaultScalerFile)},
	}
	for _, c := range copies {
		data, err := os.ReadFile(c.from)
		if err != nil {
			return errFactory.Wrap(ErrArtifactWrite, err)
		}
		if err := writeFileAtomic(c.to, data); err != nil {
			return err
		}
	}

	return nil
}

// Discard removes a saved pair. Missing files are not an error.
func (s *FileArtifactStore) Discard(refs Artifacts) error {
	errFactory := errors.New()

	for _, path := range []string{refs.ModelRef, refs.ScalerRef} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return errFactory.Wrap(ErrArtifactWrite, err)
		}
	}
	return nil
}

func (s *FileArtifactStore) Load(refs Artifacts) (*Forest, *Scaler, error) {
	var forest Forest
	if err := readJSON(refs.ModelRef, &forest); err != nil {
		return nil, nil, err
	}
	var scaler Scaler
	if err := readJSON(refs.ScalerRef, &scaler); err != nil {
		return nil, nil, err
	}
	return &forest, &scaler, nil
}

func (s *FileArtifactStore) LoadDefault() (*Forest, *Scaler, error) {
	return s.Load(Artifacts{
		ModelRef:  filepath.Join(s.dir, defaultModelFile),
		ScalerRef: filepath.Join(s.dir, defaultScalerFile),
	})
}

func readJSON(path string, v any) error {
	errFactory := errors.New()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return errFactory.WithData(ErrArtifactNotFound, path)
	}
	if err != nil {
		return errFactory.Wrap(ErrArtifactCorrupt, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errFactory.WithData(ErrArtifactCorrupt, struct {
			Path  string
			Error string
		}{path, err.Error()})
	}
	return nil
}

func writeJSONAtomic(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.New().Wrap(ErrArtifactWrite, err)
	}
	return writeFileAtomic(path, data)
}

// writeFileAtomic replaces path only once the full content is on disk.
func writeFileAtomic(path string, data []byte) error {
	errFactory := errors.New()

	tmp, err := os.CreateTemp(filepath.Dir(path), ".artifact-*")
	if err != nil {
		return errFactory.Wrap(ErrArtifactWrite, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errFactory.Wrap(ErrArtifactWrite, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errFactory.Wrap(ErrArtifactWrite, err)
	}
	if err := tmp.Close(); err != nil {
		return errFactory.Wrap(ErrArtifactWrite, err)
	}
	if err := os.Chmod(tmpName, defaultFilePerm); err != nil {
		return errFactory.Wrap(ErrArtifactWrite, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return errFactory.Wrap(ErrArtifactWrite, err)
	}

	return nil
}
