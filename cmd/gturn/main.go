// Package main is the single-binary entrypoint for gturn.
package main

import "github.com/kos-tools/gturn/internal/cli"

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	cli.Execute(version)
}
