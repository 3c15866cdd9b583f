package util

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAndFormatISODatetime(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"2023-01-01", "2023-01-01T00:00:00.000+00:00"},
		{"2023-01-01T12:30", "2023-01-01T12:30:00.000+00:00"},
		{"2023-01-15T08:00:00.123", "2023-01-15T08:00:00.123+00:00"},
		{"2023-01-15T08:00:00Z", "2023-01-15T08:00:00.000+00:00"},
		{"2023-01-15T08:00:00.5+02:00", "2023-01-15T08:00:00.500+02:00"},
		{"2023-01-15T08:00:00.000-0500", "2023-01-15T08:00:00.000-05:00"},
		{" 2023-01-15 08:00:00 ", "2023-01-15T08:00:00.000+00:00"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseISODatetime(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, FormatISODatetime(got))
		})
	}
}

func TestParseISODatetimeRejectsGarbage(t *testing.T) {
	for _, in := range []string{"", "   ", "yesterday", "2023-13-01", "01/02/2023"} {
		_, err := ParseISODatetime(in)
		assert.Error(t, err, in)
	}
}

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "a", "record.json")

	require.NoError(t, WriteFileAtomic(path, []byte(`{"v":1}`), 0o644))
	require.NoError(t, WriteFileAtomic(path, []byte(`{"v":2}`), 0o644))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, `{"v":2}`, string(data))

	// no temp files are left behind
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("NVD_TEST_INT", "12")
	t.Setenv("NVD_TEST_BAD_INT", "twelve")
	t.Setenv("NVD_TEST_BOOL", "true")
	t.Setenv("NVD_TEST_DURATION", "90s")
	t.Setenv("NVD_TEST_SECONDS", "15")

	assert.Equal(t, 12, GetEnvInt("NVD_TEST_INT", 1))
	assert.Equal(t, 1, GetEnvInt("NVD_TEST_BAD_INT", 1))
	assert.Equal(t, 1, GetEnvInt("NVD_TEST_UNSET", 1))
	assert.True(t, GetEnvBool("NVD_TEST_BOOL", false))
	assert.Equal(t, 90*time.Second, GetEnvDuration("NVD_TEST_DURATION", time.Second))
	assert.Equal(t, 15*time.Second, GetEnvDuration("NVD_TEST_SECONDS", time.Second))
	assert.Equal(t, "fallback", GetEnvDefault("NVD_TEST_UNSET", "fallback"))
	assert.Equal(t, []string{"a:9092", "b:9092"}, SplitList(" a:9092,,b:9092 "))
}
