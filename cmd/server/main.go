// The main file of Shipper.

package main

import (
	"os"
)

// Indicates the current version of Shipper, overridden at build time with -ldflags.
var Version = "1.0.0"

func main() {
	if err := Execute(Version); err != nil {
		os.Exit(1)
	}
}
