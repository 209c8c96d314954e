// Command scantrack serves per-beamline scan numbering and path resolution
// for a data acquisition facility.
package main

import "os"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
