package main

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags.
var version = "dev"

var verbose bool

func buildRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "zipkit",
		Version: version,
		Short:   "Read and write ZIP archives, including ZIP64 and legacy-encrypted entries",
		Long: `zipkit inspects, extracts, and creates ZIP archives.

Commands:
  list     Lists members of an archive, including ZIP64 and encrypted entries
  extract  Extracts members of an archive to a directory
  create   Creates an archive from a list of files

Examples:
  zipkit list archive.zip
  zipkit extract archive.zip -o out/
  zipkit extract archive.zip -o out/ --password secret
  zipkit create archive.zip file1.txt dir/

Compression:
  store (0), deflate (8), bzip2 (12), and lzma (14, write-only) are supported.

Safety:
  extract refuses to write outside the destination directory.`,
	}

	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose logging")
	cmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		if verbose {
			logrus.SetLevel(logrus.DebugLevel)
		}
	}

	cmd.AddCommand(buildListCommand())
	cmd.AddCommand(buildExtractCommand())
	cmd.AddCommand(buildCreateCommand())
	return cmd
}
