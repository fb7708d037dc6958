package export

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToSheets(t *testing.T) {
	w := &fakeSheets{}

	res, err := ToSheets(context.Background(), w, "sheet-1", "Jobs!A1", sampleJobs())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Created)

	assert.Equal(t, "sheet-1", w.id)
	assert.Equal(t, "Jobs!A1", w.rng)
	require.Len(t, w.values, 3)
	assert.Equal(t, "id", w.values[0][0])
	assert.Equal(t, "Globex, Inc", w.values[2][1])
}

func TestToSheets_Error(t *testing.T) {
	w := &fakeSheets{err: assert.AnError}

	_, err := ToSheets(context.Background(), w, "sheet-1", "Jobs!A1", nil)
	assert.ErrorIs(t, err, assert.AnError)
}
