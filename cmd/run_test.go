package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/propscope/comp-engine/internal/model"
)

func TestEmitArtifact_SurfacesRunError(t *testing.T) {
	artifact := &model.RunArtifact{
		RunID: "run-1",
		Meta:  model.RunMeta{Status: model.RunStatusPartial},
	}

	var buf bytes.Buffer
	err := emitArtifact(&buf, artifact, eris.New("classify failed"))
	require.Error(t, err, "a partial run must exit non-zero")
	assert.Contains(t, buf.String(), "run-1", "artifact is still printed")
}

func TestEmitArtifact_SuccessReturnsNil(t *testing.T) {
	artifact := &model.RunArtifact{
		RunID: "run-2",
		Meta:  model.RunMeta{Status: model.RunStatusSuccess},
	}

	var buf bytes.Buffer
	require.NoError(t, emitArtifact(&buf, artifact, nil))
	assert.Contains(t, buf.String(), "run-2")
}

func TestParseFilters(t *testing.T) {
	filters, err := parseFilters([]string{"type=house", "suburb=Burwood East"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"type": "house", "suburb": "Burwood East"}, filters)

	filters, err = parseFilters(nil)
	require.NoError(t, err)
	assert.Nil(t, filters)

	for _, bad := range []string{"type", "=house", "type="} {
		_, err := parseFilters([]string{bad})
		require.Error(t, err)
		assert.True(t, strings.Contains(err.Error(), "invalid filter"))
	}
}
