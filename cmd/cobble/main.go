// Command cobble runs hook-driven game avatars and their chat shops.
package main

import (
	"os"

	"github.com/watzon/cobble/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
