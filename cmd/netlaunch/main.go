// netlaunch launches and foregrounds programs when trigger messages arrive
// over UDP or TCP.
package main

import (
	"os"

	"github.com/steveyegge/netlaunch/internal/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
