package main

import (
	"io/fs"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/zipkit-go/zipkit"
)

func buildCreateCommand() *cobra.Command {
	var method string
	var level int
	var allowZip64 bool
	cmd := &cobra.Command{
		Use:   "create <archive.zip> <file-or-dir>...",
		Short: "Create an archive from files and directories",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			compress, err := compressionMethod(method)
			if err != nil {
				return err
			}
			ar, err := zipkit.Create(args[0], zipkit.Options{
				Compression: compress,
				CompressLevel: &level,
				AllowZip64:    allowZip64,
			})
			if err != nil {
				return err
			}
			defer ar.Close()

			for _, root := range args[1:] {
				if err := addPath(ar, root); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&method, "method", "deflate", "Compression method: store, deflate, bzip2, lzma")
	cmd.Flags().IntVar(&level, "level", -1, "Compression level hint")
	cmd.Flags().BoolVar(&allowZip64, "zip64", true, "Allow zip64 extensions for large entries")
	return cmd
}

func compressionMethod(name string) (uint16, error) {
	switch name {
	case "store":
		return zipkit.Store, nil
	case "deflate":
		return zipkit.Deflate, nil
	case "bzip2":
		return zipkit.Bzip2, nil
	case "lzma":
		return zipkit.LZMA, nil
	default:
		return 0, newUsageError("unknown compression method: " + name)
	}
}

func addPath(ar *zipkit.Archive, root string) error {
	return filepath.Walk(root, func(p string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		logrus.WithField("path", p).Debug("adding")
		if info.IsDir() {
			return ar.MkDir(p, info.Mode())
		}
		return ar.Write(p, p)
	})
}

type usageError string

func (e usageError) Error() string { return string(e) }

func newUsageError(msg string) error { return usageError(msg) }
