package main

import (
	"github.com/sirupsen/logrus"

	"github.com/max-delvita/scheduler-v4/internal/app"
)

func main() {
	if err := app.Run(); err != nil {
		logrus.Fatalf("Application failed: %v", err)
	}
}
