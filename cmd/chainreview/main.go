// Command chainreview runs the ChainReview core process.
package main

import "github.com/chainreview/core/cmd"

func main() {
	cmd.Execute()
}
