package ui

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSpinnerReportsOutcome(t *testing.T) {
	var buf bytes.Buffer
	stop := StartSpinner(&buf, "Archiving build-1")
	stop(true)
	stop(false)

	out := buf.String()
	assert.Equal(t, 1, strings.Count(out, "\n"), "stop must only print once")
	assert.Contains(t, out, "Archiving build-1 [done]")
	assert.NotContains(t, out, "[fail]")
}

func TestSpinnerReportsFailure(t *testing.T) {
	var buf bytes.Buffer
	stop := StartSpinner(&buf, "Downloading all logs")
	stop(false)
	assert.Contains(t, buf.String(), "Downloading all logs [fail]")
}

func TestTrimToWidth(t *testing.T) {
	assert.Equal(t, "short", trimToWidth("short", 10))
	assert.Equal(t, "", trimToWidth("anything", 0))
	got := trimToWidth("a long message that overflows", 10)
	assert.LessOrEqual(t, len([]rune(got)), 10)
	assert.True(t, strings.HasSuffix(got, "…"))
}
