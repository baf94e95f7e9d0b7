package toolchain

import (
	"maps"
	"os"
	"slices"
	"strings"
)

const (
	// EnvPath is the search path variable.
	EnvPath = "PATH"
	// EnvVirtualEnv marks an active python virtual environment.
	EnvVirtualEnv = "VIRTUAL_ENV"
	// EnvSDKInstallDir points the build system at the selected toolchain.
	EnvSDKInstallDir = "ZEPHYR_SDK_INSTALL_DIR"
)

// ShellEnvironment applies the global and then the workspace overlay to the
// base environment (KEY=VALUE pairs, usually os.Environ()).
// PATH receives global entries first, then workspace entries, then the
// inherited value. ZEPHYR_SDK_INSTALL_DIR is set when the workspace selects
// an installed toolchain. Either record may be nil.
func ShellEnvironment(base []string, global *GlobalConfig, workspace *WorkspaceConfig) []string {
	var (
		keys   = make([]string, 0, len(base))
		values = make(map[string]string, len(base))
	)

	set := func(key, value string) {
		// PATH is spelled Path on windows; reuse whatever spelling is inherited.
		for _, existing := range keys {
			if strings.EqualFold(existing, key) && (strings.EqualFold(key, EnvPath) || existing == key) {
				values[existing] = value

				return
			}
		}

		keys = append(keys, key)
		values[key] = value
	}

	get := func(key string) string {
		for _, existing := range keys {
			if strings.EqualFold(existing, key) {
				return values[existing]
			}
		}

		return ""
	}

	for _, kv := range base {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			continue
		}

		set(key, value)
	}

	var prepend []string

	if global != nil {
		prepend = append(prepend, global.Env.Path...)
	}

	if workspace != nil {
		prepend = append(prepend, workspace.Env.Path...)
	}

	if len(prepend) > 0 {
		parts := slices.Clone(prepend)
		if inherited := get(EnvPath); inherited != "" {
			parts = append(parts, inherited)
		}

		set(EnvPath, strings.Join(parts, string(os.PathListSeparator)))
	}

	for _, overlay := range []*EnvOverlay{globalEnv(global), workspaceEnv(workspace)} {
		if overlay == nil {
			continue
		}

		for _, key := range slices.Sorted(maps.Keys(overlay.Vars)) {
			set(key, overlay.Vars[key])
		}
	}

	if global != nil && workspace != nil && workspace.SelectedToolchain != "" {
		if dir, ok := global.Toolchains[workspace.SelectedToolchain]; ok {
			set(EnvSDKInstallDir, dir)
		}
	}

	env := make([]string, 0, len(keys))
	for _, key := range keys {
		env = append(env, key+"="+values[key])
	}

	return env
}

func globalEnv(g *GlobalConfig) *EnvOverlay {
	if g == nil {
		return nil
	}

	return &g.Env
}

func workspaceEnv(w *WorkspaceConfig) *EnvOverlay {
	if w == nil {
		return nil
	}

	return &w.Env
}
