// Command xv6fsd mounts an xv6fs image file at a mountpoint via FUSE, per
// spec.md §6's external interface.
package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/moby/sys/mountinfo"
	"github.com/spf13/cobra"

	"github.com/tinyfs/xv6fs"
	"github.com/tinyfs/xv6fs/fuseadapter"
)

func main() {
	var debug bool

	root := &cobra.Command{
		Use:          "xv6fsd <mountpoint> <image>",
		Short:        "mount an xv6fs image via FUSE",
		Args:         cobra.ExactArgs(2),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(args[0], args[1], debug)
		},
	}
	root.Flags().BoolVar(&debug, "debug", false, "enable go-fuse request tracing")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(mountpoint, image string, debug bool) error {
	already, err := mountinfo.Mounted(mountpoint)
	if err != nil {
		return fmt.Errorf("xv6fsd: checking %s: %w", mountpoint, err)
	}
	if already {
		return fmt.Errorf("xv6fsd: %s is already a mountpoint", mountpoint)
	}

	fsys, err := xv6fs.Mount(image)
	if err != nil {
		return fmt.Errorf("xv6fsd: %w", err)
	}

	server, err := fs.Mount(mountpoint, fuseadapter.Root(fsys), &fs.Options{
		MountOptions: fuse.MountOptions{Debug: debug},
	})
	if err != nil {
		return fmt.Errorf("xv6fsd: mounting at %s: %w", mountpoint, err)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		log.Printf("xv6fsd: signal received, unmounting %s", mountpoint)
		if err := server.Unmount(); err != nil {
			log.Printf("xv6fsd: unmount: %v", err)
		}
	}()

	server.Wait()
	return nil
}
