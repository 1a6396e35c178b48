package cmd

import (
	"encoding/json"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/ameliahq/amelia/internal/diagnostics"
)

func TestDoctorTextOutput(t *testing.T) {
	out, err := execute(t, "doctor")
	require.NoError(t, err)

	assert.Contains(t, out, "go:")
	assert.Contains(t, out, runtime.Version())
	assert.Contains(t, out, "memory:")
}

func TestDoctorJSONOutput(t *testing.T) {
	defer func() { doctorOutput = "text" }()

	out, err := execute(t, "doctor", "--output", "json")
	require.NoError(t, err)

	var report diagnostics.Report
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, runtime.Version(), report.GoVersion)
	assert.GreaterOrEqual(t, report.NumCPU, 1)
}

func TestDoctorYAMLOutput(t *testing.T) {
	defer func() { doctorOutput = "text" }()

	out, err := execute(t, "doctor", "--output", "yaml")
	require.NoError(t, err)

	var report diagnostics.Report
	require.NoError(t, yaml.Unmarshal([]byte(out), &report))
	assert.Equal(t, runtime.GOOS, report.OS)
}

func TestDoctorUnknownFormat(t *testing.T) {
	defer func() { doctorOutput = "text" }()

	_, err := execute(t, "doctor", "--output", "xml")
	assert.Error(t, err)
}
