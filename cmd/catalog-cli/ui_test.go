package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func plainUI(buf *bytes.Buffer) *UI {
	return &UI{out: buf, noColor: true}
}

func TestUI_CountersAlignLabels(t *testing.T) {
	var buf bytes.Buffer
	plainUI(&buf).Counters(Counter{"New", 3}, Counter{"Quarantined", 1})

	assert.Equal(t, "  New          3\n  Quarantined  1\n", buf.String())
}

func TestUI_TablePadsColumns(t *testing.T) {
	var buf bytes.Buffer
	plainUI(&buf).Table([]string{"BRAND", "SKUS"}, [][]string{
		{"acana", "12"},
		{"hills-science-diet", "140"},
	})

	want := "BRAND               SKUS\n" +
		"acana               12\n" +
		"hills-science-diet  140\n"
	assert.Equal(t, want, buf.String())
}

func TestUI_JSONModeSuppressesText(t *testing.T) {
	var buf bytes.Buffer
	u := &UI{out: &buf, noColor: true, jsonMode: true}

	u.Success("done")
	u.Section("merge")
	u.Counters(Counter{"New", 1})
	assert.Empty(t, buf.String())

	assert.NoError(t, u.JSON(map[string]int{"promoted": 2}))
	assert.JSONEq(t, `{"promoted": 2}`, buf.String())
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "250ms", FormatDuration(250*time.Millisecond+300*time.Microsecond))
	assert.Equal(t, "12.3s", FormatDuration(12340*time.Millisecond))
	assert.Equal(t, "2m5s", FormatDuration(2*time.Minute+5400*time.Millisecond))
}
