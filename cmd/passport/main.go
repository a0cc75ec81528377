package main

import (
	"fmt"
	"os"

	"github.com/layer-3/passport/cmd/passport/commands"
)

func main() {
	if err := commands.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
