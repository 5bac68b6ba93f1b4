// Command hatago runs the MCP hub: a single endpoint that fronts many
// upstream MCP servers and presents their tools, resources, and prompts as
// one aggregated surface.
package main

import "github.com/hatago/hatago/cmd/hatago/cmd"

func main() {
	cmd.Execute()
}
