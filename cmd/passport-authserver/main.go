package main

import (
	"os"

	"github.com/layer-3/passport/cmd/passport-authserver/app"
)

func main() {
	if err := app.NewServerCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
