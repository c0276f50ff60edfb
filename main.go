package main

import "github.com/kozaktomas/face-occluder/cmd"

func main() {
	cmd.Execute()
}
