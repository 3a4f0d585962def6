package main

import (
	"log"
	"net/http"
	_ "net/http/pprof"
	"os"

	"github.com/msample/header-inject-filter/cmd/inject-filter/mainlib"
)

func main() {
	if os.Getenv("ENABLE_PPROF") != "" {
		go func() {
			if err := http.ListenAndServe("localhost:6060", nil); err != nil {
				log.Printf("pprof server failed to start: %v", err)
			}
		}()
	}
	mainlib.Main()
}
