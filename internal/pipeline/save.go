package pipeline

import (
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"

	"github.com/sells-group/assetsmith/internal/model"
)

// fpNameLen is how much of the fingerprint goes into the file name; enough
// to avoid collisions in any realistic asset library.
const fpNameLen = 16

// writeArtifact persists image bytes under outputDir/<kind>/<fp>.png. The
// write goes through a temp file, fsync and rename so the cache record that
// follows only ever points at a fully written file.
func writeArtifact(outputDir string, kind model.AssetKind, fp string, data []byte) (string, error) {
	dir := filepath.Join(outputDir, string(kind))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", eris.Wrapf(err, "pipeline: create artifact dir %s", dir)
	}

	name := fp
	if len(name) > fpNameLen {
		name = name[:fpNameLen]
	}
	final := filepath.Join(dir, name+".png")

	tmp, err := os.CreateTemp(dir, name+".tmp-*")
	if err != nil {
		return "", eris.Wrap(err, "pipeline: create temp artifact")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", eris.Wrap(err, "pipeline: write artifact")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", eris.Wrap(err, "pipeline: sync artifact")
	}
	if err := tmp.Close(); err != nil {
		return "", eris.Wrap(err, "pipeline: close artifact")
	}
	if err := os.Rename(tmp.Name(), final); err != nil {
		return "", eris.Wrapf(err, "pipeline: commit artifact %s", final)
	}
	return final, nil
}
