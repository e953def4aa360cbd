// Command mergebot is the merge-train bot's entrypoint.
package main

import "github.com/marge-go/mergebot/internal/cmd"

func main() {
	cmd.Execute()
}
