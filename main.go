package main

import (
	"os"

	"darch/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
