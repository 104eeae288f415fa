//go:build integration

package patient

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trialflow/trialflow/internal/platform/db/dbtest"
)

var testPool *pgxpool.Pool

func TestMain(m *testing.M) {
	pool, cleanup, err := dbtest.Start(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start postgres: %v\n", err)
		os.Exit(1)
	}
	testPool = pool
	code := m.Run()
	cleanup()
	os.Exit(code)
}

func TestRepoPG_Lifecycle(t *testing.T) {
	ctx := dbtest.Site(t, testPool)
	svc := NewService(NewRepoPG(testPool))

	enrolled := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)
	ada := &Patient{FirstName: "Ada", LastName: "Lovelace", Email: "ada@example.com",
		TrialPhase: Phase2, EnrollmentDate: &enrolled, CompletionPercentage: 30}
	require.NoError(t, svc.CreatePatient(ctx, ada))
	assert.False(t, ada.CreatedAt.IsZero())

	got, err := svc.GetPatient(ctx, ada.ID)
	require.NoError(t, err)
	assert.Equal(t, "Lovelace", got.LastName)
	assert.Equal(t, Phase2, got.TrialPhase)
	require.NotNil(t, got.EnrollmentDate)
	assert.True(t, got.EnrollmentDate.Equal(enrolled))

	got.CompletionPercentage = 80
	require.NoError(t, svc.UpdatePatient(ctx, got))
	again, err := svc.GetPatient(ctx, ada.ID)
	require.NoError(t, err)
	assert.Equal(t, 80, again.CompletionPercentage)

	require.NoError(t, svc.DeletePatient(ctx, ada.ID))
	_, err = svc.GetPatient(ctx, ada.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, svc.DeletePatient(ctx, ada.ID), ErrNotFound)
}

func TestRepoPG_SearchAndContactable(t *testing.T) {
	ctx := dbtest.Site(t, testPool)
	repo := NewRepoPG(testPool)

	for _, p := range []*Patient{
		{FirstName: "Ada", LastName: "Lovelace", Email: "ada@example.com", TrialPhase: Phase2, CompletionPercentage: 10},
		{FirstName: "Alan", LastName: "Turing", Email: "alan@example.com", TrialPhase: Phase2, CompletionPercentage: 90},
		{FirstName: "Grace", LastName: "Hopper", Email: "", TrialPhase: Phase1},
	} {
		require.NoError(t, repo.Create(ctx, p))
	}

	items, total, err := repo.Search(ctx, SearchParams{Phase: Phase2, Sort: "-completion"}, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, items, 2)
	assert.Equal(t, "Turing", items[0].LastName)

	items, total, err = repo.Search(ctx, SearchParams{Name: "hop"}, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, "Grace", items[0].FirstName)

	items, total, err = repo.Search(ctx, SearchParams{}, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, items, 1)
	assert.Equal(t, "Lovelace", items[0].LastName)

	contactable, err := repo.ListContactable(ctx)
	require.NoError(t, err)
	assert.Len(t, contactable, 2)
}
