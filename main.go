package main

import (
	"github.com/verity-subnet/verity-pool/cmd"
)

func main() {
	cmd.Execute()
}
