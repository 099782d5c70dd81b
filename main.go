package main

import "frame-server/cmd"

func main() {
	cmd.Execute()
}
