package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"moneywright/internal/records"
	"moneywright/internal/trials"
)

func TestRouterDispatchesByMode(t *testing.T) {
	statementTrier := &fakeTrier{result: trials.Result{Success: true, UsedVersion: 1}}
	investmentTrier := &fakeTrier{result: trials.Result{Success: true, UsedVersion: 2}}
	statementGen := &fakeGenerator{version: 10}
	investmentGen := &fakeGenerator{version: 20}

	router := NewRouter(statementTrier, investmentTrier, statementGen, investmentGen)
	ctx := context.Background()

	res, err := router.TryVersions(ctx, "k:pdf", "doc", records.ModeTransaction, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.UsedVersion)

	res, err = router.TryVersions(ctx, "k:pdf", "doc", records.ModeHolding, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, res.UsedVersion)

	_, v, err := router.Generate(ctx, "k:pdf", "doc", records.ModeTransaction, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 10, v)

	_, v, err = router.Generate(ctx, "k:pdf", "doc", records.ModeHolding, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 20, v)
}
