package main

import (
	"github.com/rfinnell/demovault/cmd"
)

func main() {
	cmd.Execute()
}
