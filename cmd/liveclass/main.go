package main

import "liveclass/internal/commands"

func main() {
	commands.Execute()
}
