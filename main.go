package main

import "github.com/agentic-research/booklocker/cmd"

func main() {
	cmd.Execute()
}
