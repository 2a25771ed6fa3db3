// Command pinfsctl mounts a flat-file pinfs device and runs one administrative
// operation against it: format it, list a directory, dump a file, make a directory,
// or print an inode's stat line.
package main

import (
	"fmt"
	"os"

	"github.com/KarpelesLab/pinfs"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var (
	devicePath string
	numSectors int
)

// bindFlags registers pinfsctl's persistent flags directly against flagSet and wires
// them into viper, so device resolution goes through one path (flag, then
// PINFS_DEVICE) regardless of which cobra command ran.
func bindFlags(flagSet *pflag.FlagSet) error {
	flagSet.StringVar(&devicePath, "device", "", "path to the device file (env PINFS_DEVICE)")
	flagSet.IntVar(&numSectors, "sectors", pinfs.DefaultConfig().NumSectors, "device size in sectors")
	if err := viper.BindPFlag("device", flagSet.Lookup("device")); err != nil {
		return err
	}
	return viper.BindEnv("device", "PINFS_DEVICE")
}

func main() {
	root := &cobra.Command{
		Use:   "pinfsctl",
		Short: "Inspect and administer a pinfs device file",
	}
	if err := bindFlags(root.PersistentFlags()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	root.AddCommand(formatCmd(), lsCmd(), catCmd(), mkdirCmd(), statCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func resolveDevicePath() (string, error) {
	path := viper.GetString("device")
	if path == "" {
		return "", fmt.Errorf("pinfsctl: no device path given (--device or PINFS_DEVICE)")
	}
	return path, nil
}

// openFS opens devicePath and mounts it, formatting first when format is true.
func openFS(format bool) (*pinfs.FileSystem, *pinfs.FileBlockDevice, error) {
	path, err := resolveDevicePath()
	if err != nil {
		return nil, nil, err
	}
	dev, err := pinfs.OpenFileDevice(path, numSectors)
	if err != nil {
		return nil, nil, err
	}
	fs := pinfs.New(dev, pinfs.Config{NumSectors: numSectors}, nil)
	if err := fs.Init(format); err != nil {
		dev.Close()
		return nil, nil, err
	}
	return fs, dev, nil
}

func formatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "format",
		Short: "Write a fresh root directory to the device",
		RunE: func(cmd *cobra.Command, args []string) error {
			fs, dev, err := openFS(true)
			if err != nil {
				return err
			}
			defer dev.Close()
			return fs.Shutdown()
		},
	}
}

func lsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls [path]",
		Short: "List a directory's entries",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/"
			if len(args) == 1 {
				path = args[0]
			}
			fs, dev, err := openFS(false)
			if err != nil {
				return err
			}
			defer dev.Close()
			defer fs.Shutdown()

			dir, err := fs.OpenDir(pinfs.RootProcessContext{}, path)
			if err != nil {
				return err
			}
			defer dir.Close()

			for {
				name, ok, err := dir.Readdir()
				if err != nil {
					return err
				}
				if !ok {
					break
				}
				fmt.Println(name)
			}
			return nil
		},
	}
}

func catCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cat <path>",
		Short: "Print a file's contents to stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fs, dev, err := openFS(false)
			if err != nil {
				return err
			}
			defer dev.Close()
			defer fs.Shutdown()

			in, err := fs.Open(pinfs.RootProcessContext{}, args[0])
			if err != nil {
				return err
			}
			defer in.Close()

			buf := make([]byte, 4096)
			length := in.Length()
			var offset uint32
			for offset < length {
				chunk := buf
				if rem := length - offset; rem < uint32(len(chunk)) {
					chunk = buf[:rem]
				}
				n, ok, err := in.ReadAt(chunk, offset)
				if err != nil {
					return err
				}
				if !ok || n == 0 {
					break
				}
				if _, err := os.Stdout.Write(chunk[:n]); err != nil {
					return err
				}
				offset += uint32(n)
			}
			return nil
		},
	}
}

func mkdirCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mkdir <path>",
		Short: "Create a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fs, dev, err := openFS(false)
			if err != nil {
				return err
			}
			defer dev.Close()
			defer fs.Shutdown()
			return fs.Create(pinfs.RootProcessContext{}, args[0], 0, true)
		},
	}
}

func statCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stat <path>",
		Short: "Print an inode's sector, length, and type",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fs, dev, err := openFS(false)
			if err != nil {
				return err
			}
			defer dev.Close()
			defer fs.Shutdown()

			in, err := fs.Open(pinfs.RootProcessContext{}, args[0])
			if err != nil {
				return err
			}
			defer in.Close()

			kind := "file"
			if in.IsDir() {
				kind = "directory"
			}
			fmt.Printf("sector=%d length=%d type=%s\n", in.Sector(), in.Length(), kind)
			return nil
		},
	}
}
