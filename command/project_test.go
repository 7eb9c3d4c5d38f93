package command

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/authapp/iamcore/domain"
)

func TestAddProject_DuplicateNamePerOrg(t *testing.T) {
	d := newTestDispatcher()
	cc := domain.Context{InstanceID: "inst1"}
	ctx := context.Background()

	_, err := d.AddProject(ctx, cc, "org1", "proj1", AddProjectData{Name: "widgets"})
	require.NoError(t, err)

	_, err = d.AddProject(ctx, cc, "org1", "proj2", AddProjectData{Name: "widgets"})
	require.Error(t, err)
	require.True(t, domain.IsKind(err, domain.KindUniqueConstraintViolation))

	_, err = d.AddProject(ctx, cc, "org2", "proj3", AddProjectData{Name: "widgets"})
	require.NoError(t, err)
}

func TestChangeProject_MovesClaim(t *testing.T) {
	d := newTestDispatcher()
	cc := domain.Context{InstanceID: "inst1"}
	ctx := context.Background()

	_, err := d.AddProject(ctx, cc, "org1", "proj1", AddProjectData{Name: "widgets"})
	require.NoError(t, err)

	_, err = d.ChangeProject(ctx, cc, "proj1", ChangeProjectData{Name: "gadgets"})
	require.NoError(t, err)

	_, err = d.AddProject(ctx, cc, "org1", "proj2", AddProjectData{Name: "widgets"})
	require.NoError(t, err)
}

func TestRemoveProject_FreesClaim(t *testing.T) {
	d := newTestDispatcher()
	cc := domain.Context{InstanceID: "inst1"}
	ctx := context.Background()

	_, err := d.AddProject(ctx, cc, "org1", "proj1", AddProjectData{Name: "widgets"})
	require.NoError(t, err)

	_, err = d.RemoveProject(ctx, cc, "proj1")
	require.NoError(t, err)

	_, err = d.AddProject(ctx, cc, "org1", "proj2", AddProjectData{Name: "widgets"})
	require.NoError(t, err)
}
