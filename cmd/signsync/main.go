package main

import (
	"github.com/inkwell-tools/signsync/cmd/signsync/commands"
)

func main() {
	commands.Execute()
}
