package discovery

import (
	"context"
	"os"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/assetsmith/internal/model"
)

// requestFile is the YAML shape of a request file:
//
//	requests:
//	  - asset_id: icon-finance
//	    asset_kind: icon
//	    seed_description: a ledger with a quill pen
//	    priority: 2
type requestFile struct {
	Requests []fileRequest `yaml:"requests"`
}

type fileRequest struct {
	AssetID         string `yaml:"asset_id"`
	AssetKind       string `yaml:"asset_kind"`
	SeedDescription string `yaml:"seed_description"`
	Priority        int    `yaml:"priority"`
}

// FileSource loads generation requests from a YAML file.
type FileSource struct {
	Path string
}

// NewFileSource creates a source reading the given request file.
func NewFileSource(path string) *FileSource {
	return &FileSource{Path: path}
}

func (s *FileSource) Name() string {
	return "file:" + s.Path
}

// Load parses the request file. Unknown kinds and duplicate asset IDs are
// load errors: a malformed queue should fail before any money is spent.
func (s *FileSource) Load(_ context.Context) ([]model.GenerationRequest, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, eris.Wrapf(err, "discovery: read %s", s.Path)
	}

	var file requestFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, eris.Wrapf(err, "discovery: parse %s", s.Path)
	}

	seen := make(map[string]struct{}, len(file.Requests))
	out := make([]model.GenerationRequest, 0, len(file.Requests))
	for i, fr := range file.Requests {
		if fr.AssetID == "" {
			return nil, eris.Errorf("discovery: request %d in %s has no asset_id", i, s.Path)
		}
		if _, dup := seen[fr.AssetID]; dup {
			return nil, eris.Errorf("discovery: duplicate asset_id %q in %s", fr.AssetID, s.Path)
		}
		seen[fr.AssetID] = struct{}{}

		kind, ok := model.ParseAssetKind(fr.AssetKind)
		if !ok {
			return nil, eris.Errorf("discovery: asset %q has unknown kind %q", fr.AssetID, fr.AssetKind)
		}

		out = append(out, model.GenerationRequest{
			AssetID:         fr.AssetID,
			Kind:            kind,
			SeedDescription: fr.SeedDescription,
			Priority:        model.Priority(fr.Priority),
		})
	}

	zap.L().Info("discovery: loaded request file",
		zap.String("path", s.Path),
		zap.Int("requests", len(out)),
	)
	return out, nil
}
