// The main package for the icp-exporter executable.
package main

import (
	"github.com/JakeFAU/icp-exporter/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
