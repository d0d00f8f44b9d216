package main

import "github.com/jmcleod/bankgate/cmd/bankgate/cmd"

func main() {
	cmd.Execute()
}
