package main

import "github.com/emiliopalmerini/mvariant/internal/cli"

func main() {
	cli.Execute()
}
