package state

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/oshokin/zephyr-tools/internal/config"
	"github.com/oshokin/zephyr-tools/internal/domain/toolchain"
	"github.com/oshokin/zephyr-tools/internal/logger"
)

// Repository defines persistence operations for the global and workspace records.
type Repository interface {
	LoadGlobal(ctx context.Context) (*toolchain.GlobalConfig, error)
	LoadWorkspace(ctx context.Context) (*toolchain.WorkspaceConfig, error)
	UpdateGlobal(ctx context.Context, fn func(*toolchain.GlobalConfig) error) (*toolchain.GlobalConfig, error)
	UpdateWorkspace(ctx context.Context, fn func(*toolchain.WorkspaceConfig) error) (*toolchain.WorkspaceConfig, error)
	Reset(ctx context.Context) error
}

var (
	// ErrIncompatibleSchema is returned for records written by a newer release.
	// Such files are never overwritten.
	ErrIncompatibleSchema = errors.New("state was written by a newer version")
	// ErrInvalidRecord is returned for records failing schema validation.
	ErrInvalidRecord = errors.New("invalid state record")
)

const (
	// stateDirPermissions is used for directories holding state files.
	stateDirPermissions = 0o755
	// WorkspaceFolder holds per-workspace files.
	WorkspaceFolder = ".zephyr-tools"
)

// GlobalPath returns the global record location under the tools directory.
func GlobalPath(toolsDir string) string {
	return filepath.Join(toolsDir, "state", "global.yaml")
}

// WorkspacePath returns the workspace record location.
func WorkspacePath(workspaceDir string) string {
	return filepath.Join(workspaceDir, WorkspaceFolder, "state.yaml")
}

// FileRepository persists both records as YAML files.
// Records are read whole and rewritten whole through a temporary file.
type FileRepository struct {
	globalPath    string
	workspacePath string
	validator     *validator

	// mu serializes read-modify-write cycles.
	mu sync.Mutex
}

// NewFileRepository creates a repository for the given tools and workspace directories.
func NewFileRepository(toolsDir, workspaceDir string) (*FileRepository, error) {
	v, err := newValidator()
	if err != nil {
		return nil, err
	}

	return &FileRepository{
		globalPath:    filepath.Clean(GlobalPath(toolsDir)),
		workspacePath: filepath.Clean(WorkspacePath(workspaceDir)),
		validator:     v,
	}, nil
}

// LoadGlobal reads the global record. A missing file yields an empty record.
func (r *FileRepository) LoadGlobal(ctx context.Context) (*toolchain.GlobalConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.loadGlobal(ctx)
}

// LoadWorkspace reads the workspace record. A missing file yields an empty record.
func (r *FileRepository) LoadWorkspace(ctx context.Context) (*toolchain.WorkspaceConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.loadWorkspace(ctx)
}

// UpdateGlobal applies fn to a copy of the global record and saves it when fn succeeds.
// The stored record is untouched when fn fails.
func (r *FileRepository) UpdateGlobal(
	ctx context.Context,
	fn func(*toolchain.GlobalConfig) error,
) (*toolchain.GlobalConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, err := r.loadGlobal(ctx)
	if err != nil {
		return nil, err
	}

	next := current.Clone()
	if err = fn(next); err != nil {
		return nil, err
	}

	next.SchemaVersion = toolchain.SchemaVersion

	if err = r.save(ctx, r.globalPath, r.validator.global, next); err != nil {
		return nil, err
	}

	return next, nil
}

// UpdateWorkspace applies fn to a copy of the workspace record and saves it when fn succeeds.
func (r *FileRepository) UpdateWorkspace(
	ctx context.Context,
	fn func(*toolchain.WorkspaceConfig) error,
) (*toolchain.WorkspaceConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, err := r.loadWorkspace(ctx)
	if err != nil {
		return nil, err
	}

	next := current.Clone()
	if err = fn(next); err != nil {
		return nil, err
	}

	next.SchemaVersion = toolchain.SchemaVersion

	if err = r.save(ctx, r.workspacePath, r.validator.workspace, next); err != nil {
		return nil, err
	}

	return next, nil
}

// Reset discards both records.
func (r *FileRepository) Reset(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, path := range []string{r.globalPath, r.workspacePath} {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove state file: %w", err)
		}
	}

	logger.InfoKV(ctx, "State reset", "global", r.globalPath, "workspace", r.workspacePath)

	return nil
}

func (r *FileRepository) loadGlobal(ctx context.Context) (*toolchain.GlobalConfig, error) {
	record := toolchain.NewGlobalConfig()

	found, err := r.load(ctx, r.globalPath, r.validator.global, record)
	if err != nil {
		return nil, err
	}

	if !found {
		return record, nil
	}

	if record.Toolchains == nil {
		record.Toolchains = make(map[string]string)
	}

	record.SchemaVersion = toolchain.SchemaVersion

	return record, nil
}

func (r *FileRepository) loadWorkspace(ctx context.Context) (*toolchain.WorkspaceConfig, error) {
	record := toolchain.NewWorkspaceConfig()

	found, err := r.load(ctx, r.workspacePath, r.validator.workspace, record)
	if err != nil {
		return nil, err
	}

	if !found {
		return record, nil
	}

	if record.Projects == nil {
		record.Projects = make(map[string]*toolchain.Project)
	}

	record.SchemaVersion = toolchain.SchemaVersion

	return record, nil
}

// load decodes path into out after checking the schema version and the JSON schema.
// It reports whether the file existed.
func (r *FileRepository) load(ctx context.Context, path string, schema *jsonschema.Schema, out any) (bool, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}

		return false, fmt.Errorf("read state file: %w", err)
	}

	var document map[string]any
	if err = yaml.Unmarshal(contents, &document); err != nil {
		return false, fmt.Errorf("decode state file %s: %w", path, err)
	}

	// Legacy records without a version are version 1.
	if _, ok := document["schema_version"]; !ok {
		if document == nil {
			document = make(map[string]any)
		}

		document["schema_version"] = toolchain.SchemaVersion
	}

	if err = checkVersion(path, document); err != nil {
		return false, err
	}

	if err = validate(schema, document); err != nil {
		return false, fmt.Errorf("%s: %w", path, err)
	}

	if err = yaml.Unmarshal(contents, out); err != nil {
		return false, fmt.Errorf("decode state file %s: %w", path, err)
	}

	logger.DebugKV(ctx, "Loaded state", "path", path)

	return true, nil
}

// save validates and writes a record atomically. A file written by a newer
// release is left in place.
func (r *FileRepository) save(ctx context.Context, path string, schema *jsonschema.Schema, record any) error {
	if contents, err := os.ReadFile(path); err == nil {
		var existing map[string]any
		if yaml.Unmarshal(contents, &existing) == nil {
			if err = checkVersion(path, existing); err != nil {
				return err
			}
		}
	}

	data, err := yaml.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	var document map[string]any
	if err = yaml.Unmarshal(data, &document); err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	if err = validate(schema, document); err != nil {
		return err
	}

	if err = writeAtomic(path, data); err != nil {
		return err
	}

	logger.DebugKV(ctx, "Saved state", "path", path)

	return nil
}

// checkVersion refuses documents from a newer schema.
func checkVersion(path string, document map[string]any) error {
	version, ok := document["schema_version"].(int)
	if !ok {
		// Type errors are reported by the schema validation.
		return nil
	}

	if version > toolchain.SchemaVersion {
		return fmt.Errorf("%s has schema version %d, supported %d: %w",
			path, version, toolchain.SchemaVersion, ErrIncompatibleSchema)
	}

	return nil
}

// writeAtomic writes data to a temporary file next to path and renames it over path.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, stateDirPermissions); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()

		return fmt.Errorf("write temp state file: %w", err)
	}

	if err = tmp.Chmod(config.DefaultFilePermissions); err != nil {
		_ = tmp.Close()

		return fmt.Errorf("chmod temp state file: %w", err)
	}

	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close temp state file: %w", err)
	}

	if err = os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename state file: %w", err)
	}

	return nil
}
