package board

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"conductor/pkg/logx"
	"conductor/pkg/proto"
)

// featureFile is the YAML shape of an importable feature definition.
type featureFile struct {
	ID            string   `yaml:"id"`
	Title         string   `yaml:"title"`
	Description   string   `yaml:"description"`
	Dependencies  []string `yaml:"dependencies"`
	Priority      int      `yaml:"priority"`
	Model         string   `yaml:"model"`
	ThinkingLevel string   `yaml:"thinking_level"`
}

// Importer loads feature definitions from YAML files in a directory.
// Imported features always start in backlog.
type Importer struct {
	dir    string
	logger *logx.Logger
}

// NewImporter creates an importer over the given directory.
func NewImporter(dir string) *Importer {
	return &Importer{
		dir:    dir,
		logger: logx.NewLogger("importer"),
	}
}

// Load scans the directory for *.yaml and *.yml files and parses each into a
// feature. Files that fail to parse are skipped with a warning so one bad
// file does not block the rest of the import.
func (im *Importer) Load() ([]*Feature, error) {
	if _, err := os.Stat(im.dir); os.IsNotExist(err) {
		// Directory doesn't exist yet, nothing to import.
		return nil, nil
	}

	var files []string
	for _, pattern := range []string{"*.yaml", "*.yml"} {
		matches, err := filepath.Glob(filepath.Join(im.dir, pattern))
		if err != nil {
			return nil, fmt.Errorf("failed to scan feature directory: %w", err)
		}
		files = append(files, matches...)
	}

	var features []*Feature
	for _, file := range files {
		feature, err := im.parseFile(file)
		if err != nil {
			im.logger.Warn("Skipping feature file %s: %v", file, err)
			continue
		}
		features = append(features, feature)
	}
	return features, nil
}

func (im *Importer) parseFile(path string) (*Feature, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var ff featureFile
	if err := yaml.Unmarshal(content, &ff); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if ff.ID == "" {
		return nil, fmt.Errorf("missing required field: id")
	}
	if ff.Title == "" {
		return nil, fmt.Errorf("missing required field: title")
	}

	now := time.Now().UTC()
	return &Feature{
		ID:            ff.ID,
		Title:         ff.Title,
		Description:   ff.Description,
		Status:        proto.StatusBacklog,
		Dependencies:  ff.Dependencies,
		Priority:      ff.Priority,
		Model:         ff.Model,
		ThinkingLevel: ff.ThinkingLevel,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}
