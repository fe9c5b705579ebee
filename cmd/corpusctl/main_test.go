package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsumeStream(t *testing.T) {
	stream := strings.Join([]string{
		`event: delta`,
		`data: {"delta":"The residency "}`,
		``,
		`event: delta`,
		`data: {"delta":"requirement is 30 days."}`,
		``,
		`event: answer`,
		`data: {"text":"The residency requirement is 30 days.","state":"completed","citations":[{"source_path":"election-law.md","chunk_index":2,"score":0.91}],"attempt":{"provider":"anthropic","model":"claude-sonnet-4"}}`,
		``,
	}, "\n")

	var out bytes.Buffer
	answer, err := consumeStream(strings.NewReader(stream), &out)
	require.NoError(t, err)
	require.NotNil(t, answer)

	assert.Equal(t, "The residency requirement is 30 days.", out.String())
	assert.Equal(t, "completed", answer.State)
	require.Len(t, answer.Citations, 1)
	assert.Equal(t, "election-law.md", answer.Citations[0].SourcePath)
	assert.Equal(t, 2, answer.Citations[0].ChunkIndex)
	assert.Equal(t, "anthropic", answer.Attempt.Provider)
}

func TestConsumeStreamTruncated(t *testing.T) {
	stream := "event: delta\ndata: {\"delta\":\"partial\"}\n\n"

	var out bytes.Buffer
	answer, err := consumeStream(strings.NewReader(stream), &out)
	require.NoError(t, err)

	assert.Nil(t, answer)
	assert.Equal(t, "partial", out.String())
}

func TestConsumeStreamBadJSON(t *testing.T) {
	stream := "event: delta\ndata: {not json}\n\n"

	var out bytes.Buffer
	_, err := consumeStream(strings.NewReader(stream), &out)
	assert.Error(t, err)
}
