// Package main is the entry point for the dgawatch detector.
package main

import (
	"os"

	"firestige.xyz/dgawatch/cmd"
)

func main() {
	os.Exit(int(cmd.Execute()))
}
