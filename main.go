// The main package for the trust-engine executable.
package main

import (
	"github.com/timmd-9216/trust-engine-v2-sub000/cmd"
)

func main() {
	cmd.Execute()
}
