// rekcod is the fleet controller binary: server, agent and operator CLI
// in one executable.
package main

import "github.com/rekcod/rekcod/cli"

func main() {
	cli.Execute()
}
