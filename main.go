// Command scribe runs the collaboration backend services. See the cli
// package for the available subcommands.
package main

import "scribe.evalgo.org/cli"

func main() {
	cli.Execute()
}
