// chunkup uploads files in resumable chunks
package main

import "chunkup/cmd"

func main() {
	cmd.Execute()
}
