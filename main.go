package main

import (
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/MShaffar19/transitland-datastore/cmd"

	_ "golang.org/x/crypto/x509roots/fallback" // We need this to make TLS work in scratch containers
)

func main() {
	if err := cmd.RootApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
