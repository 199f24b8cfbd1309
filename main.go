package main

import "github.com/drgolem/pcmjitter/cmd"

func main() {
	cmd.Execute()
}
