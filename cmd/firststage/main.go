// firststage estimates the first-stage regression of an instrumental
// variables design across geographic sample variants.
//
// Usage:
//
//	firststage run [--config=<yaml>] [--data=<csv>] [--output=<csv>] [--xlsx=<path>] [--db=<path>]
//	firststage variants [--config=<yaml>]
//	firststage validate [--config=<yaml>] [--data=<csv>]
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
