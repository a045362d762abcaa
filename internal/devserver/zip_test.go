package devserver

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ian0520/gamestore/internal/testutil"
)

func TestSanitizeEntryName(t *testing.T) {
	ok := []string{"a.txt", "dir/file.bin", "dir/", "a/b/../b/c"}
	for _, name := range ok {
		_, err := sanitizeEntryName(name)
		assert.NoError(t, err, "entry %q", name)
	}

	bad := []string{"../evil", "a/../../evil", "/etc/passwd", `..\evil`, "c:/windows/evil"}
	for _, name := range bad {
		_, err := sanitizeEntryName(name)
		assert.ErrorIs(t, err, errUnsafeZipEntry, "entry %q", name)
	}
}

func TestExtractZip(t *testing.T) {
	t.Run("nested layout survives", func(t *testing.T) {
		data := testutil.BuildZip(t, map[string]string{
			"top.txt":        "top",
			"nested/":        "",
			"nested/two.txt": "two",
		})
		archive := filepath.Join(t.TempDir(), "a.zip")
		require.NoError(t, os.WriteFile(archive, data, 0o644))

		dest := filepath.Join(t.TempDir(), "out")
		require.NoError(t, extractZip(archive, dest))

		got, err := os.ReadFile(filepath.Join(dest, "nested", "two.txt"))
		require.NoError(t, err)
		assert.Equal(t, "two", string(got))
	})

	t.Run("one poisoned entry abandons everything", func(t *testing.T) {
		data := testutil.BuildZip(t, map[string]string{
			"good.txt": "good",
			"../evil":  "evil",
		})
		archive := filepath.Join(t.TempDir(), "a.zip")
		require.NoError(t, os.WriteFile(archive, data, 0o644))

		dest := filepath.Join(t.TempDir(), "out")
		require.ErrorIs(t, extractZip(archive, dest), errUnsafeZipEntry)

		_, err := os.Stat(filepath.Join(dest, "good.txt"))
		assert.True(t, os.IsNotExist(err), "nothing should have been extracted")
	})
}
