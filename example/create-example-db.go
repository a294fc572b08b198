package main

import (
	"flag"
	"log"

	"github.com/sammcj/toolloop/tools"
)

func main() {
	path := flag.String("db", "test.db", "path of the sqlite database to create")
	flag.Parse()

	if err := tools.SeedExampleDB(*path); err != nil {
		log.Fatalf("seed %s: %v", *path, err)
	}
	log.Printf("example database written to %s", *path)
}
