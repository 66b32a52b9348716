package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/zipkit-go/zipkit"
)

func buildListCommand() *cobra.Command {
	var long bool
	cmd := &cobra.Command{
		Use:   "list <archive.zip>",
		Short: "List members of an archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ar, err := zipkit.Open(args[0], zipkit.Options{})
			if err != nil {
				return err
			}
			defer ar.Close()

			for _, e := range ar.Entries() {
				if long {
					fmt.Printf("%10d %10d %04d-%02d-%02d %02d:%02d %s\n",
						e.FileSize, e.CompressSize,
						e.DateTime[0], e.DateTime[1], e.DateTime[2], e.DateTime[3], e.DateTime[4],
						e.Name)
				} else {
					fmt.Println(e.Name)
				}
			}
			for _, w := range ar.Warnings() {
				logrus.Warn(w)
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&long, "long", "l", false, "Show size and modification time")
	return cmd
}
