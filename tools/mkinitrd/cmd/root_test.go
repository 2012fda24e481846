package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRootCmdPacksInputDirectory(t *testing.T) {
	srcDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(srcDir, "boot"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "boot", "redshift.map"), []byte("0 kmain\n"), 0644))

	outPath := filepath.Join(t.TempDir(), "initrd.img")
	rootCmd.SetArgs([]string{"-o", outPath, "-C", srcDir, srcDir})

	require.NoError(t, Execute())

	info, err := os.Stat(outPath)
	require.NoError(t, err)
	require.Greater(t, info.Size(), int64(0))
}
