package main

import (
	"context"
	"crypto/rand"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/kpcyrd/d3xs/internal/doorfw"
	"github.com/kpcyrd/d3xs/internal/protocol"
)

func main() {
	_ = godotenv.Load()

	secretB64 := os.Getenv("D3XS_DOOR_SECRET_KEY")
	bridgePubB64 := os.Getenv("D3XS_BRIDGE_PUBLIC_KEY")
	if secretB64 == "" || bridgePubB64 == "" {
		log.Fatal("door: D3XS_DOOR_SECRET_KEY and D3XS_BRIDGE_PUBLIC_KEY must both be set")
	}

	secret, err := protocol.DecodeKey(secretB64)
	if err != nil {
		log.Fatalf("door: invalid secret key: %v", err)
	}
	bridgePub, err := protocol.DecodeKey(bridgePubB64)
	if err != nil {
		log.Fatalf("door: invalid bridge public key: %v", err)
	}

	box := protocol.NewBox(secret, bridgePub)
	controller, err := doorfw.NewController(rand.Reader, box, doorfw.LoggingActuator{})
	if err != nil {
		log.Fatalf("door: failed to initialize controller: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-stop
		cancel()
	}()

	// The real deployment wires OnReadCharacteristic/OnWriteCharacteristic
	// into the platform BLE peripheral stack's GATT callbacks; that glue
	// is out of scope here (spec.md Non-goal), so this process simply
	// runs the generator loop until terminated.
	controller.Run(ctx)
}
