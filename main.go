package main

import "workshop-sync/cmd"

func main() {
	cmd.Execute()
}
