/*
Copyright © 2025 jesse galley <jesse@jessegalley.net>
*/
package main

import (
	"log"
	"os"
	"runtime/pprof"

	"github.com/jessegalley/ioprobe/cmd"
)

func main() {

	// profile the harness itself, e.g. IOPROBE_CPUPROFILE=./prof.pprof
	cpuProfile := os.Getenv("IOPROBE_CPUPROFILE")
	if cpuProfile != "" {
		f, err := os.Create(cpuProfile)
		if err != nil {
			log.Fatal(err)
		}
		defer f.Close()

		pprof.StartCPUProfile(f)
		defer pprof.StopCPUProfile()
	}
	cmd.Execute()
}
