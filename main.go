package main

import "github.com/kozaktomas/clone-finder/cmd"

func main() {
	cmd.Execute()
}
