package main

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/zipkit-go/zipkit"
)

func buildExtractCommand() *cobra.Command {
	var outDir string
	var password string
	cmd := &cobra.Command{
		Use:   "extract <archive.zip> [member...]",
		Short: "Extract members of an archive to a directory",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ar, err := zipkit.Open(args[0], zipkit.Options{})
			if err != nil {
				return err
			}
			defer ar.Close()

			var names []string
			if len(args) > 1 {
				names = args[1:]
			}
			logrus.WithField("dest", outDir).Info("extracting")
			var pw []byte
			if password != "" {
				pw = []byte(password)
			}
			if err := ar.ExtractAllWithPassword(outDir, names, pw); err != nil {
				return err
			}
			for _, w := range ar.Warnings() {
				logrus.Warn(w)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&outDir, "output", "o", ".", "Destination directory")
	cmd.Flags().StringVar(&password, "password", "", "Password for legacy-encrypted members")
	return cmd
}
