// Command blindbackup is the CLI entrypoint for the blind-backup agent:
// a client-encrypted directory sync tool that can run a one-shot or
// continuous sync against a remote server, S3, or Azure Blob Storage,
// or serve the remote-provider protocol itself.
package main

import (
	"fmt"
	"os"

	"github.com/rescale/blindbackup/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
