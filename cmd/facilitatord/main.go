package main

import (
	"log"

	"agoranet/services/facilitatord"
)

func main() {
	if err := facilitatord.Main(); err != nil {
		log.Fatalf("facilitatord: %v", err)
	}
}
