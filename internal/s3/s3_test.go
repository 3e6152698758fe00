package s3

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobKey(t *testing.T) {
	assert.Equal(t, "reports/job-1/report.json", JobKey("job-1", ReportObject))
	assert.Equal(t, "reports/job-1/combined.log", JobKey("job-1", CombinedLogObject))
	assert.Equal(t, "reports/job-1/dc-report.json", JobKey("job-1", "/scratch/job-1/work/dc-report.json"))
}

func TestNew(t *testing.T) {
	c, err := New("localhost:9000", "access", "secret", "us-east-1", false)
	require.NoError(t, err)
	assert.NotNil(t, c.mc)
}
