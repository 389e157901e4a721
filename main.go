package main

import "github.com/0x7f/microclaw/cmd"

func main() {
	cmd.Execute()
}
