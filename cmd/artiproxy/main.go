package main

import (
	"os"

	"artiproxy/cmd/artiproxy/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
