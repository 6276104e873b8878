// Repograph - builds typed property graphs of Python repositories.
//
// Repograph runs inspect4py over one or more repositories and turns the
// extracted structure into a named graph of packages, modules, classes,
// functions, imports and calls that can be queried and searched.
package main

import (
	"fmt"
	"os"

	"github.com/Benny93/repograph-go/cmd"
)

func main() {
	cli := cmd.NewCLI()

	if err := cli.Execute(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
