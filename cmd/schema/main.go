// Command schema writes the JSON schema of every protocol action and signal
// payload.
package main

import (
	"log"
	"os"
)

func main() {
	if err := Execute(os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		log.Fatal(err)
	}
}
