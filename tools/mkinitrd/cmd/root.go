package cmd

import (
	"errors"

	"github.com/spf13/cobra"

	"redshift/tools/mkinitrd/archive"
)

var errMissingOutput = errors.New("mkinitrd: --output is required")

var (
	outputPath string
	stripPath  string
)

// rootCmd packs every file under one or more input directories into a
// USTAR archive, grounded on original_source/tools/src/mkinitrd.cpp's
// "output file, input files" invocation shape but targeting the TAR
// format spec.md's initrd collaborator actually requires.
var rootCmd = &cobra.Command{
	Use:   "mkinitrd [input dir]...",
	Short: "Pack a directory tree into the kernel's initial ramdisk image",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if outputPath == "" {
			return errMissingOutput
		}
		return archive.Pack(outputPath, stripPath, args)
	},
}

// Execute runs the root command, parsing os.Args.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	flags := rootCmd.Flags()
	flags.StringVarP(&outputPath, "output", "o", "", "path to write the initrd image to (required)")
	flags.StringVarP(&stripPath, "strip-prefix", "C", "", "directory prefix to strip from archive member names")
	_ = rootCmd.MarkFlagRequired("output")
}
