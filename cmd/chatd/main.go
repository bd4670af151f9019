// chatd serves chat completions from locally stored models over HTTP.
//
//	@title        chatd API
//	@version      1.0
//	@description  Local chat generation daemon: model lifecycle, resource governance and NDJSON token streaming.
//	@BasePath     /
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
