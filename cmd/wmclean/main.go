package main

import (
	"github.com/MeKo-Tech/wmclean/cmd/wmclean/cmd"
)

func main() {
	cmd.Execute()
}
