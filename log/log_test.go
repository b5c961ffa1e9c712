package log_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pkg.world.dev/ensemble/log"
)

type fakeRegistry map[string]int

func (f fakeRegistry) RegisteredTypes() map[string]int {
	return f
}

func TestRegistryLogsTypesInOrder(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	log.Registry(&logger, fakeRegistry{"OnPhysicsFrame": 3, "ActionMap": 1}, zerolog.InfoLevel)

	out := buf.String()
	assert.Contains(t, out, `"total_types":2`)
	assert.Contains(t, out, `{"type":"ActionMap","definitions":1},{"type":"OnPhysicsFrame","definitions":3}`)
}

func TestDeprecateOnlyWarnsOnce(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	log.Deprecate(&logger, "test.deprecate.once", "use something else")
	log.Deprecate(&logger, "test.deprecate.once", "use something else")

	assert.Equal(t, 1, strings.Count(buf.String(), "use something else"))
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := log.New(nil, "loud", false)
	require.Error(t, err)

	logger, err := log.New(&bytes.Buffer{}, "warn", false)
	require.NoError(t, err)
	assert.Equal(t, zerolog.WarnLevel, logger.GetLevel())
}
