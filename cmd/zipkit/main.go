package main

import (
	"os"

	"github.com/sirupsen/logrus"
)

func main() {
	if err := buildRootCommand().Execute(); err != nil {
		logrus.WithError(err).Error("zipkit failed")
		os.Exit(1)
	}
}
