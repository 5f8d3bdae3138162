package env

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGetEnvPrefersLoadedFile(t *testing.T) {
	t.Setenv("ROAMWIRE_TEST_KEY", "from-os")
	Env = map[string]string{"ROAMWIRE_TEST_KEY": "from-file"}
	t.Cleanup(func() { Env = nil })

	assert.Equal(t, "from-file", GetEnv("ROAMWIRE_TEST_KEY", "def"))

	Env = nil
	assert.Equal(t, "from-os", GetEnv("ROAMWIRE_TEST_KEY", "def"))
	assert.Equal(t, "def", GetEnv("ROAMWIRE_TEST_MISSING", "def"))
}

func TestTypedGetters(t *testing.T) {
	Env = map[string]string{
		"INT_OK":   "42",
		"INT_BAD":  "forty",
		"BOOL_OK":  "true",
		"DUR_OK":   "90s",
		"DUR_BAD":  "soon",
		"LIST":     " a, b ,,c ",
		"INT64_OK": "1500",
	}
	t.Cleanup(func() { Env = nil })

	assert.Equal(t, 42, GetEnvInt("INT_OK", 1))
	assert.Equal(t, 1, GetEnvInt("INT_BAD", 1))
	assert.Equal(t, int64(1500), GetEnvInt64("INT64_OK", 0))
	assert.True(t, GetEnvBool("BOOL_OK", false))
	assert.Equal(t, 90*time.Second, GetEnvDuration("DUR_OK", time.Second))
	assert.Equal(t, time.Second, GetEnvDuration("DUR_BAD", time.Second))
	assert.Equal(t, []string{"a", "b", "c"}, GetEnvList("LIST"))
	assert.Nil(t, GetEnvList("NOPE"))
}
