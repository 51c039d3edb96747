// The main package for the pyscp executable.
package main

import (
	"github.com/anqxyr/pyscp/cmd"
)

// main defers all execution to the Cobra CLI tree.
func main() {
	cmd.Execute()
}
