package export

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"citycrawler/internal/checkpoint"
	"citycrawler/internal/crawler"
	"citycrawler/pkg/types"
)

func sampleDataset(t *testing.T) *checkpoint.Dataset {
	t.Helper()
	ds := checkpoint.NewDataset()
	require.NoError(t, checkpoint.SetItems(ds, "berlin", []types.Location{
		{Name: "X", URL: "u1"},
		{Name: "Y, the second", URL: "u2"},
	}))
	require.NoError(t, checkpoint.SetItems(ds, "hamburg", []types.Location{}))
	return ds
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, sampleDataset(t), "CSV"))
	assert.Equal(t, "city,position,name,url\nberlin,1,X,u1\nberlin,2,\"Y, the second\",u2\n", buf.String())
}

func TestWriteJSONMatchesCheckpointForm(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, sampleDataset(t), FormatJSON))
	assert.True(t, strings.HasPrefix(buf.String(), "{\n  \"berlin\": ["))
	assert.Contains(t, buf.String(), "\"hamburg\": []")
}

func TestWriteTable(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, sampleDataset(t), FormatTable))
	out := buf.String()
	assert.Contains(t, out, "berlin")
	assert.Contains(t, out, "hamburg")
	assert.Contains(t, out, "TOTAL")
}

func TestWriteRejectsUnknownFormat(t *testing.T) {
	require.Error(t, Write(&bytes.Buffer{}, sampleDataset(t), "xml"))
}

func TestWriteSummaryListsIncompleteChildren(t *testing.T) {
	var buf bytes.Buffer
	WriteSummary(&buf, crawler.Summary{
		RunID:     "r1",
		RootURL:   "https://example.com/cities",
		Policy:    "resume",
		Completed: 1,
		Partial:   1,
		Duration:  1500 * time.Millisecond,
		Children: []crawler.ChildState{
			{Key: "berlin", Status: crawler.StatusDone, Items: 3},
			{Key: "hamburg", Status: crawler.StatusPartial, Items: 1, Err: errors.New("retries exhausted")},
		},
	})
	out := buf.String()
	assert.Contains(t, strings.ToLower(out), "run r1")
	assert.Contains(t, out, "hamburg")
	assert.Contains(t, out, "retries exhausted")
	assert.NotContains(t, out, "berlin")
}
