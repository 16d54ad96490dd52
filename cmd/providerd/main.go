package main

import (
	"log"

	"agoranet/services/providerd"
)

func main() {
	if err := providerd.Main(); err != nil {
		log.Fatalf("providerd: %v", err)
	}
}
