// Command mkinitrd packs a directory tree into the USTAR-format initial
// ramdisk image the kernel mounts at boot.
package main

import (
	"fmt"
	"os"

	"redshift/tools/mkinitrd/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
