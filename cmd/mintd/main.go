package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"github.com/coinshelf/mint/mint"
	"github.com/coinshelf/mint/mint/httpapi"
	"github.com/coinshelf/mint/mint/storage/sqlite"
)

func main() {
	app := &cli.App{
		Name:  "mintd",
		Usage: "run a Cashu mint with bolt11, btconchain and bitcredit settlement",
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(c *cli.Context) error {
	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file loaded: %v", err)
	}

	config, err := mint.GetConfig()
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}

	db, err := sqlite.InitSQLite(config.MintPath)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}

	m, err := mint.LoadMint(*config, db)
	if err != nil {
		return fmt.Errorf("loading mint: %w", err)
	}

	port := 3338
	if portEnv := os.Getenv("MINT_PORT"); portEnv != "" {
		p, err := strconv.Atoi(portEnv)
		if err != nil {
			return fmt.Errorf("invalid MINT_PORT: %w", err)
		}
		port = p
	}

	server := httpapi.NewServer(fmt.Sprintf(":%d", port), m)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sig
		log.Println("shutting down mint server")
		if err := server.Shutdown(); err != nil {
			log.Printf("error shutting down server: %v", err)
		}
		if err := db.Close(); err != nil {
			log.Printf("error closing database: %v", err)
		}
	}()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := server.Start(); err != nil {
			log.Fatalf("error running mint server: %v", err)
		}
	}()
	wg.Wait()

	return nil
}
