package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zatca-go/fatoora-client/models"
)

func TestForRun_CarriesRunIDAndEnvOnEveryLine(t *testing.T) {
	var buf bytes.Buffer
	log := New("info", &buf)
	entry := ForRun(log, "run-123", models.NonProduction)

	Step(entry, 1, "loaded config")
	Step(entry, 2, "built CSR")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	for i, line := range lines {
		var fields map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &fields))
		require.Equal(t, "run-123", fields["run_id"])
		require.Equal(t, string(models.NonProduction), fields["env"])
		require.Equal(t, float64(i+1), fields["step"])
	}
}

func TestNew_UnrecognizedLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	log := New("not-a-real-level", &buf)
	require.Equal(t, "info", log.GetLevel().String())
}
