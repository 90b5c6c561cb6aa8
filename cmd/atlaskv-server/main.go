// Command atlaskv-server is a demo HTTP front end for the AtlasKV
// engine. It is explicitly outside the storage engine core: a real
// deployment would replace this with the TCP server and wire protocol
// described informally in spec section 6.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/atlaskv/atlaskv/internal/httpapi"
	"github.com/atlaskv/atlaskv/pkg/atlaskv"
)

func main() {
	var (
		addr    = flag.String("addr", ":8080", "address to listen on")
		dataDir = flag.String("data", "./atlaskv_data", "data directory for the WAL and SSTables")
		help    = flag.Bool("help", false, "show help")
	)
	flag.Parse()

	if *help {
		fmt.Println("atlaskv-server - HTTP demo front end for the AtlasKV engine")
		fmt.Println("\nUsage:")
		fmt.Println("  atlaskv-server [options]")
		fmt.Println("\nOptions:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	log := logrus.StandardLogger()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	db, err := atlaskv.Open(atlaskv.DefaultConfig(*dataDir))
	if err != nil {
		log.WithError(err).Fatal("failed to open atlaskv")
	}
	defer db.Close()

	server := httpapi.NewServer(db, log)
	if err := server.ListenAndServe(*addr); err != nil {
		log.WithError(err).Fatal("server exited")
	}
}
