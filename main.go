package main

import "github.com/agentic-research/realm/cmd"

func main() {
	cmd.Execute()
}
