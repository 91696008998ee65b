package main

import "github.com/tagwarden/tagwarden/cmd/tagwarden/commands"

func main() {
	commands.Execute()
}
