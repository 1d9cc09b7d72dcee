// Command plizard is the popup client of a running plizard host: it edits
// the stored task form, fills the annotation page and copies fields out.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
