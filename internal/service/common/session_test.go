//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/zephyr-tools/internal/domain/toolchain"
)

// TestSession_Preconditions walks the checks shared by project commands.
func TestSession_Preconditions(t *testing.T) {
	t.Parallel()

	s := &Session{
		Global:    toolchain.NewGlobalConfig(),
		Workspace: toolchain.NewWorkspaceConfig(),
	}

	_, err := s.ActiveProject()
	require.ErrorIs(t, err, ErrNotSetup)

	s.Global.IsSetup = true

	_, err = s.ActiveProject()
	require.ErrorIs(t, err, ErrNoProject)

	s.Workspace.Projects["blinky"] = &toolchain.Project{Name: "blinky", Path: "/ws/blinky"}
	s.Workspace.SelectedProject = "blinky"

	_, err = s.BuildableProject()
	require.ErrorIs(t, err, ErrProjectNotInit)

	s.Workspace.Projects["blinky"].IsInit = true

	_, err = s.BuildableProject()
	require.ErrorIs(t, err, ErrNoBoard)

	s.Workspace.Projects["blinky"].Board = "nrf52840dk_nrf52840"

	_, err = s.BuildableProject()
	require.Error(t, err)

	s.Workspace.Projects["blinky"].Target = "/ws/blinky"

	project, err := s.BuildableProject()
	require.NoError(t, err)
	require.Equal(t, "blinky", project.Name)
}
