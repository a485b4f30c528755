package main

import "github.com/steveyegge/citadel/internal/cmd"

func main() {
	cmd.Execute()
}
