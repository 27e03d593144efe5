// Command smtool is the participant-side companion of secretmarket. It
// generates blinding factors, computes commitments, signs relay
// authorizations and encrypts keys into keystore files.
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
