package main

import "jobboard/cmd"

func main() {
	cmd.Execute()
}
