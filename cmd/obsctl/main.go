// Command obsctl talks to OBS over obs-websocket directly, for checking a
// controller setup without going through chat.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
