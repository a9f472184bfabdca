package main

import (
	"flag"
	"log"

	"github.com/tech-arch1tect/authkit/app"
)

func main() {
	certFile := flag.String("tls-cert", "", "TLS certificate file")
	keyFile := flag.String("tls-key", "", "TLS key file")
	flag.Parse()

	builder := app.NewApp().WithAutoConfig()
	if *certFile != "" || *keyFile != "" {
		builder.WithSSL(*certFile, *keyFile)
	}

	application, err := builder.Build()
	if err != nil {
		log.Fatalf("failed to build application: %v", err)
	}

	application.Run()
}
