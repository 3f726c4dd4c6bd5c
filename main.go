// The main package for the athlete results crawler executable.
package main

import (
	"github.com/JakeFAU/athlete-results-crawler/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
