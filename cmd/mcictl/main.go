package main

import (
	"github.com/mcistack/mci/internal/cli"
)

func main() {
	cli.Execute()
}
