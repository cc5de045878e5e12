// dealctl - operator tool for the dealroom service
//
// Issues development access tokens, applies database migrations and prints
// the deal stage table.
package main

import (
	"fmt"
	"os"

	"github.com/vadim/dealroom/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
