package main

import "github.com/killallgit/converse/cmd"

func main() {
	cmd.Execute()
}
