// Package main is the entry point for the sniff packet capture tool.
package main

import "firestige.xyz/sniff/cmd"

func main() {
	cmd.Execute()
}
