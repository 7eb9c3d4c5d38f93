package tokenengine_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/authapp/iamcore/tokenengine"
)

func TestKeyRotator_RotateKeepsOldKeyVerifiable(t *testing.T) {
	signer, _ := testSigner(t)
	rotator := tokenengine.NewKeyRotator(signer, 2048, time.Hour)

	keys, err := rotator.VerificationKeys()
	require.NoError(t, err)
	require.Len(t, keys, 1)

	require.NoError(t, rotator.Rotate("kid2"))
	require.Equal(t, "kid2", rotator.Active().KeyID())

	keys, err = rotator.VerificationKeys()
	require.NoError(t, err)
	require.Len(t, keys, 2)
}

func TestKeyRotator_PrunesExpiredRetiredKeys(t *testing.T) {
	signer, _ := testSigner(t)
	rotator := tokenengine.NewKeyRotator(signer, 2048, 20*time.Millisecond)

	require.NoError(t, rotator.Rotate("kid2"))
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, rotator.Rotate("kid3"))

	keys, err := rotator.VerificationKeys()
	require.NoError(t, err)
	// kid1 is older than retainFor and pruned; kid3 (active) and the
	// just-retired kid2 remain.
	require.Len(t, keys, 2, "retired keys older than retainFor should be pruned")
}
