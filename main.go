package main

import "github.com/frahmantamala/transport-fees/cmd"

func main() {
	cmd.Execute()
}
