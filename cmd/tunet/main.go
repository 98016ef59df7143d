// Command tunet logs on to the campus network and manages the account's
// online devices. Run "tunet daemon" to keep the session alive in the
// background and serve the local API.
package main

import (
	"log"
	"os"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
