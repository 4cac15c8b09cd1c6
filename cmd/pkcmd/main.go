package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	pkcommand "github.com/lingrottin/go-pkcommand"
	"github.com/lingrottin/go-pkcommand/pkg/engine"
	"github.com/lingrottin/go-pkcommand/pkg/gateway"
	gwhttp "github.com/lingrottin/go-pkcommand/pkg/gateway/http"
	"github.com/lingrottin/go-pkcommand/pkg/node"
	"github.com/lingrottin/go-pkcommand/pkg/profile"
	"github.com/lingrottin/go-pkcommand/pkg/store"
	"github.com/lingrottin/go-pkcommand/pkg/transport"
	_ "github.com/lingrottin/go-pkcommand/pkg/transport/serial"
	_ "github.com/lingrottin/go-pkcommand/pkg/transport/tcp"
	_ "github.com/lingrottin/go-pkcommand/pkg/transport/virtual"
	log "github.com/sirupsen/logrus"
)

const DefaultTransport = "serial"
const DefaultPacketLimit = 64

func main() {
	transportType := flag.String("t", DefaultTransport, "transport type e.g. serial,tcp,virtual")
	channel := flag.String("c", "", "transport channel e.g. /dev/ttyUSB0@115200, localhost:18000")
	packetLimit := flag.Int("l", DefaultPacketLimit, "packet limit (MTU) in bytes")
	verbose := flag.Bool("v", false, "enable debug logging")

	readObject := flag.String("read", "", "read a variable e.g. -read VARIA")
	writeSpec := flag.String("write", "", "write a variable e.g. -write VARIA=value")
	invokeSpec := flag.String("invoke", "", "invoke a method e.g. -invoke ECHOO=param")
	version := flag.Bool("version", false, "query the device protocol version")
	gatewayAddr := flag.String("gateway", "", "serve the HTTP gateway on this address e.g. :8090")

	deviceMode := flag.Bool("device", false, "run as a device instead of a host")
	profilePath := flag.String("profile", "", "device profile (ini) path")
	flag.Parse()

	if *verbose {
		log.SetLevel(log.DebugLevel)
	}
	if *channel == "" {
		log.Fatal("a transport channel is required (-c)")
	}

	bus, err := transport.NewTransport(*transportType, *channel)
	if err != nil {
		log.Fatalf("could not create transport %v : %v", *transportType, err)
	}

	if *deviceMode {
		runDevice(bus, *channel, *profilePath, *packetLimit)
		return
	}

	host := node.NewProcessor(
		engine.New(engine.DefaultConfig(*packetLimit), store.NewMapVariables(), store.NewMapMethods()),
		bus, nil, node.DefaultPollPeriod)
	if err := bus.Connect(); err != nil {
		log.Fatalf("could not connect to channel %v : %v", *channel, err)
	}
	defer bus.Disconnect()
	host.Start(context.Background())
	defer host.Stop()

	gw := gateway.NewBaseGateway(host, gateway.DefaultTransactionTimeout)

	switch {
	case *gatewayAddr != "":
		server := gwhttp.NewGatewayServer(gw, nil)
		if err := server.ListenAndServe(*gatewayAddr); err != nil {
			log.Fatalf("gateway stopped : %v", err)
		}
	case *readObject != "":
		data, err := gw.Read(*readObject)
		if err != nil {
			log.Fatalf("read failed : %v", err)
		}
		fmt.Println(string(data))
	case *writeSpec != "":
		object, value, ok := strings.Cut(*writeSpec, "=")
		if !ok {
			log.Fatal("write expects OBJECT=VALUE")
		}
		if err := gw.Write(object, []byte(value)); err != nil {
			log.Fatalf("write failed : %v", err)
		}
	case *invokeSpec != "":
		object, param, _ := strings.Cut(*invokeSpec, "=")
		data, err := gw.Invoke(object, []byte(param))
		if err != nil {
			log.Fatalf("invoke failed : %v", err)
		}
		fmt.Println(string(data))
	case *version:
		v, err := gw.Version()
		if err != nil {
			log.Fatalf("version query failed : %v", err)
		}
		fmt.Println(v)
	default:
		log.Fatal("nothing to do : use -read, -write, -invoke, -version or -gateway")
	}
}

// runDevice serves a profile-backed variable store until interrupted
func runDevice(bus pkcommand.Transport, channel string, profilePath string, packetLimit int) {
	vars := store.NewMapVariables()
	config := engine.DefaultConfig(packetLimit)
	if profilePath != "" {
		loaded, info, err := profile.Load(profilePath)
		if err != nil {
			log.Fatalf("error encountered when loading profile : %v", err)
		}
		vars = loaded
		config.ProtocolVersion = info.ProtocolVersion
		log.Infof("loaded profile %v (protocol %v)", info.Name, info.ProtocolVersion)
	}
	// a built-in echo method, handy for link checks
	methods := store.NewMapMethods().Add("ECHOO", func(param []byte) (store.Pollable, error) {
		return store.Resolved(param), nil
	})

	device := node.NewProcessor(engine.New(config, vars, methods), bus, nil, node.DefaultPollPeriod)
	if err := bus.Connect(); err != nil {
		log.Fatalf("could not connect to channel %v : %v", channel, err)
	}
	defer bus.Disconnect()
	device.Start(context.Background())
	defer device.Stop()
	log.Infof("device running on %v", channel)

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-interrupt
	log.Info("shutting down")
}
