package cycle

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidate_AcceptsInitialOrderAtLevelZero(t *testing.T) {
	o := &Order{IsInitial: true, GridLevel: 0}
	require.NoError(t, o.Validate())
}

func TestValidate_AcceptsGridOrderAboveLevelZero(t *testing.T) {
	o := &Order{IsInitial: false, GridLevel: 1}
	require.NoError(t, o.Validate())
}

func TestValidate_AcceptsRecoveryOrderAtSentinelLevel(t *testing.T) {
	o := &Order{IsInitial: false, GridLevel: RecoveryGridLevel}
	require.NoError(t, o.Validate())
}

func TestValidate_RejectsInitialFlagAtNonZeroLevel(t *testing.T) {
	o := &Order{IsInitial: true, GridLevel: 2}
	require.Error(t, o.Validate())
}

func TestValidate_RejectsNonInitialOrderAtLevelZero(t *testing.T) {
	o := &Order{IsInitial: false, GridLevel: 0}
	require.Error(t, o.Validate())
}

func TestOrderStatus_StringValues(t *testing.T) {
	require.Equal(t, "pending", StatusPending.String())
	require.Equal(t, "active", StatusActive.String())
	require.Equal(t, "closed", StatusClosed.String())
	require.Equal(t, "cancelled", StatusCancelled.String())
}
