package main

import "github.com/mensylisir/xmsuite/cmd"

func main() {
	cmd.Execute()
}
