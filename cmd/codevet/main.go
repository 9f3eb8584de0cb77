package main

import (
	"github.com/DrSkyle/codevet/cmd/codevet/commands"
)

func main() {
	commands.Execute()
}
