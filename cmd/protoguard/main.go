package main

import "protoguard/cmd/protoguard/cmd"

func main() {
	cmd.Execute()
}
