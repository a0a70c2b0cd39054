// Command mkfs builds a fresh xv6fs image file, per spec.md §4.8.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tinyfs/xv6fs"
)

func main() {
	var nblocks, ninodes uint32

	root := &cobra.Command{
		Use:          "mkfs <image>",
		Short:        "create a new xv6fs image file",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return xv6fs.BuildImage(args[0], nblocks, ninodes)
		},
	}

	root.Flags().Uint32Var(&nblocks, "blocks", 1024, "number of blocks in the image")
	root.Flags().Uint32Var(&ninodes, "inodes", 200, "number of inodes in the image")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
