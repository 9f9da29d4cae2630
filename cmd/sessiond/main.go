package main

import "github.com/partsbay/sessiond/cmd/sessiond/cmd"

func main() {
	cmd.Execute()
}
