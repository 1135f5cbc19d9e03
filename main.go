// The main package for the freefinder executable.
package main

import (
	"github.com/JakeFAU/freefinder/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
