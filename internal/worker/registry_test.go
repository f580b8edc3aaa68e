package worker_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ankitraval/jobforge/internal/worker"
	"github.com/ankitraval/jobforge/pkg/models"
)

func noopHandler(context.Context, *models.Job, worker.ProgressFunc) (*worker.Result, error) {
	return nil, nil
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	reg := worker.NewRegistry()
	require.NoError(t, reg.Register(models.JobTypeAnalyzeRoom, noopHandler))

	h, ok := reg.Get(models.JobTypeAnalyzeRoom)
	assert.True(t, ok)
	assert.NotNil(t, h)

	_, ok = reg.Get(models.JobTypeGenerateReport)
	assert.False(t, ok)
}

func TestRegistry_DuplicateRejected(t *testing.T) {
	reg := worker.NewRegistry()
	require.NoError(t, reg.Register(models.JobTypeAnalyzeRoom, noopHandler))

	err := reg.Register(models.JobTypeAnalyzeRoom, noopHandler)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
}

func TestRegistry_Types(t *testing.T) {
	reg := worker.NewRegistry()
	require.NoError(t, reg.Register(models.JobTypeAnalyzeRoom, noopHandler))
	require.NoError(t, reg.Register(models.JobTypeGenerateReport, noopHandler))

	assert.ElementsMatch(t,
		[]string{models.JobTypeAnalyzeRoom, models.JobTypeGenerateReport},
		reg.Types())
}
