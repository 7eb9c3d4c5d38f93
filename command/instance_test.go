package command

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/authapp/iamcore/domain"
)

func TestAddInstance_DuplicateName(t *testing.T) {
	d := newTestDispatcher()
	ctx := context.Background()

	_, err := d.AddInstance(ctx, domain.Context{InstanceID: "inst1"}, "inst1", AddInstanceData{Name: "prod"})
	require.NoError(t, err)

	_, err = d.AddInstance(ctx, domain.Context{InstanceID: "inst2"}, "inst2", AddInstanceData{Name: "prod"})
	require.Error(t, err)
	require.True(t, domain.IsKind(err, domain.KindUniqueConstraintViolation))
}

func TestRemoveInstance_FreesClaim(t *testing.T) {
	d := newTestDispatcher()
	ctx := context.Background()

	_, err := d.AddInstance(ctx, domain.Context{InstanceID: "inst1"}, "inst1", AddInstanceData{Name: "prod"})
	require.NoError(t, err)

	_, err = d.RemoveInstance(ctx, domain.Context{InstanceID: "inst1"}, "inst1")
	require.NoError(t, err)

	_, err = d.AddInstance(ctx, domain.Context{InstanceID: "inst2"}, "inst2", AddInstanceData{Name: "prod"})
	require.NoError(t, err)
}
