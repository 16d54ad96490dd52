package main

import (
	"log"

	"agoranet/services/consumerd"
)

func main() {
	if err := consumerd.Main(); err != nil {
		log.Fatalf("consumerd: %v", err)
	}
}
