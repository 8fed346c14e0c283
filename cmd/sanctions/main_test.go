package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/sanction-engine/sanction"
	"github.com/warp/sanction-engine/store/sqlite"
)

func runCLI(t *testing.T, args ...string) error {
	t.Helper()
	return newCLI().Run(context.Background(), append([]string{"sanctions"}, args...))
}

func TestCLI_SeedEvaluateReverse(t *testing.T) {
	// GIVEN: A fresh database file seeded with the general-assembly scenario
	// WHEN: The event is evaluated twice, then reversed, from the command line
	// THEN: Two sanctions exist after evaluation and none after reversal

	dbPath := filepath.Join(t.TempDir(), "sanctions.db")
	t.Setenv("SANCTIONS_DB", dbPath)
	t.Setenv("SANCTIONS_LOG_LEVEL", "error")

	require.NoError(t, runCLI(t, "seed", "--scenario", "general-assembly"))
	require.NoError(t, runCLI(t, "evaluate", "--event", "ev-assembly"))
	require.NoError(t, runCLI(t, "evaluate", "--event", "ev-assembly"))
	require.NoError(t, runCLI(t, "unpaid", "--member", "m-ben"))

	store, err := sqlite.New(dbPath)
	require.NoError(t, err)
	list, err := store.ListByEvent(context.Background(), "ev-assembly")
	require.NoError(t, err)
	assert.Len(t, list, 2)

	runs, err := store.ListRuns(context.Background(), "ev-assembly")
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, sanction.TriggerCLI, runs[0].Trigger)
	require.NoError(t, store.Close())

	require.NoError(t, runCLI(t, "mark-paid", "--sanction", string(list[0].ID)))
	require.NoError(t, runCLI(t, "reverse", "--event", "ev-assembly"))

	store, err = sqlite.New(dbPath)
	require.NoError(t, err)
	defer store.Close()
	list, err = store.ListByEvent(context.Background(), "ev-assembly")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestCLI_Errors(t *testing.T) {
	t.Setenv("SANCTIONS_DB", filepath.Join(t.TempDir(), "sanctions.db"))
	t.Setenv("SANCTIONS_LOG_LEVEL", "error")

	err := runCLI(t, "evaluate", "--event", "missing")
	assert.ErrorIs(t, err, sanction.ErrEventNotFound)

	err = runCLI(t, "unpaid", "--member", "missing")
	assert.ErrorIs(t, err, sanction.ErrMemberNotFound)

	err = runCLI(t, "evaluate-date", "--date", "10/03/2025")
	assert.Error(t, err)

	err = runCLI(t, "seed", "--scenario", "nope")
	assert.Error(t, err)
}
