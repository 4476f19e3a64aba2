package logging

import (
	"bytes"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("")
	require.NoError(t, err)
	assert.Equal(t, logrus.InfoLevel, lvl)

	lvl, err = ParseLevel(" debug ")
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, lvl)

	_, err = ParseLevel("loud")
	assert.Error(t, err)
}

func TestNewRejectsBadLevel(t *testing.T) {
	_, err := New("verbose", &bytes.Buffer{})
	assert.Error(t, err)
}

func TestPionFactoryWritesScopedEntries(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New("debug", &buf)
	require.NoError(t, err)

	pl := NewPionFactory(logger).NewLogger("ice")
	pl.Infof("candidate %d gathered", 3)
	pl.Trace("dropped below debug")

	out := buf.String()
	assert.Contains(t, out, "candidate 3 gathered")
	assert.Contains(t, out, "scope=ice")
	assert.NotContains(t, out, "dropped below debug")
}
