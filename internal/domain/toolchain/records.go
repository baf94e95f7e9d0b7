package toolchain

import (
	"maps"
	"slices"
)

// SchemaVersion is the version of the persisted record layout written by this build.
const SchemaVersion = 1

// EnvOverlay is an environment overlay applied on top of the process environment.
type EnvOverlay struct {
	// Path entries are prepended to PATH in order.
	Path []string `json:"path,omitempty" yaml:"path,omitempty"`
	// Vars are set verbatim, overriding inherited values.
	Vars map[string]string `json:"vars,omitempty" yaml:"vars,omitempty"`
}

// Clone returns a deep copy of the overlay.
func (e EnvOverlay) Clone() EnvOverlay {
	return EnvOverlay{
		Path: slices.Clone(e.Path),
		Vars: maps.Clone(e.Vars),
	}
}

// PrependPath adds dir in front of the overlay PATH unless it is already present.
func (e *EnvOverlay) PrependPath(dir string) {
	if slices.Contains(e.Path, dir) {
		return
	}

	e.Path = append([]string{dir}, e.Path...)
}

// SetVar sets an overlay variable.
func (e *EnvOverlay) SetVar(key, value string) {
	if e.Vars == nil {
		e.Vars = make(map[string]string)
	}

	e.Vars[key] = value
}

// GlobalConfig is the per-user record shared by every workspace.
type GlobalConfig struct {
	// SchemaVersion is the record layout version.
	SchemaVersion int `json:"schema_version" yaml:"schema_version"`
	// IsSetup reports whether the base environment was provisioned.
	IsSetup bool `json:"is_setup" yaml:"is_setup"`
	// Env is the global environment overlay.
	Env EnvOverlay `json:"env" yaml:"env"`
	// Platform is the resolved release platform name.
	Platform Platform `json:"platform,omitempty" yaml:"platform,omitempty"`
	// Arch is the resolved release architecture name.
	Arch Arch `json:"arch,omitempty" yaml:"arch,omitempty"`
	// Toolchains maps an installed version to its install path.
	Toolchains map[string]string `json:"toolchains,omitempty" yaml:"toolchains,omitempty"`
}

// NewGlobalConfig returns an empty record at the current schema version.
func NewGlobalConfig() *GlobalConfig {
	return &GlobalConfig{
		SchemaVersion: SchemaVersion,
		Toolchains:    make(map[string]string),
	}
}

// Clone returns a deep copy of the record.
func (g *GlobalConfig) Clone() *GlobalConfig {
	if g == nil {
		return nil
	}

	cloned := *g
	cloned.Env = g.Env.Clone()
	cloned.Toolchains = maps.Clone(g.Toolchains)

	return &cloned
}

// InstalledVersions returns the installed toolchain versions in sorted order.
func (g *GlobalConfig) InstalledVersions() []string {
	return slices.Sorted(maps.Keys(g.Toolchains))
}

// Project is a buildable application inside a workspace.
type Project struct {
	// Name is the project identifier, the base name of its folder.
	Name string `json:"name" yaml:"name"`
	// Path is the project folder.
	Path string `json:"path" yaml:"path"`
	// Board is the selected target board.
	Board string `json:"board,omitempty" yaml:"board,omitempty"`
	// BoardRootDir is passed as BOARD_ROOT to the build.
	BoardRootDir string `json:"board_root_dir,omitempty" yaml:"board_root_dir,omitempty"`
	// Target is the folder the build tool runs against.
	Target string `json:"target,omitempty" yaml:"target,omitempty"`
	// IsInit reports whether the project dependencies were installed.
	IsInit bool `json:"is_init" yaml:"is_init"`
	// Runner is the flash runner. Empty means the tool default.
	Runner string `json:"runner,omitempty" yaml:"runner,omitempty"`
	// RunnerParams are extra arguments for the flash runner.
	RunnerParams string `json:"runner_params,omitempty" yaml:"runner_params,omitempty"`
}

// Clone returns a copy of the project.
func (p *Project) Clone() *Project {
	if p == nil {
		return nil
	}

	cloned := *p

	return &cloned
}

// WorkspaceConfig is the record stored inside one workspace.
type WorkspaceConfig struct {
	// SchemaVersion is the record layout version.
	SchemaVersion int `json:"schema_version" yaml:"schema_version"`
	// Env is the workspace environment overlay.
	Env EnvOverlay `json:"env" yaml:"env"`
	// SelectedToolchain is the toolchain version used by builds.
	SelectedToolchain string `json:"selected_toolchain,omitempty" yaml:"selected_toolchain,omitempty"`
	// Projects maps a project name to its record.
	Projects map[string]*Project `json:"projects,omitempty" yaml:"projects,omitempty"`
	// SelectedProject is the name of the active project.
	SelectedProject string `json:"selected_project,omitempty" yaml:"selected_project,omitempty"`
	// AutoSelectProject switches the active project by the file being edited.
	AutoSelectProject bool `json:"auto_select_project" yaml:"auto_select_project"`
}

// NewWorkspaceConfig returns an empty record at the current schema version.
func NewWorkspaceConfig() *WorkspaceConfig {
	return &WorkspaceConfig{
		SchemaVersion: SchemaVersion,
		Projects:      make(map[string]*Project),
	}
}

// Clone returns a deep copy of the record.
func (w *WorkspaceConfig) Clone() *WorkspaceConfig {
	if w == nil {
		return nil
	}

	cloned := *w
	cloned.Env = w.Env.Clone()
	cloned.Projects = make(map[string]*Project, len(w.Projects))

	for name, project := range w.Projects {
		cloned.Projects[name] = project.Clone()
	}

	return &cloned
}

// ActiveProject returns the selected project or nil.
func (w *WorkspaceConfig) ActiveProject() *Project {
	if w.SelectedProject == "" {
		return nil
	}

	return w.Projects[w.SelectedProject]
}

// ProjectNames returns the project names in sorted order.
func (w *WorkspaceConfig) ProjectNames() []string {
	return slices.Sorted(maps.Keys(w.Projects))
}
