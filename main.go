package main

import "github.com/fakeyudi/viewtrack/cmd"

func main() {
	cmd.Execute()
}
