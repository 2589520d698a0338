package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"
	"go.uber.org/fx"

	"github.com/matheus3301/casechat/internal/daemon"
	"github.com/matheus3301/casechat/internal/instance"
)

func main() {
	instanceFlag := pflag.StringP("instance", "i", "", "instance name (overrides config default)")
	listenFlag := pflag.String("listen", "", "gateway listen address (overrides config listen_addr)")
	pflag.Parse()

	name := instance.Resolve(*instanceFlag)
	if err := instance.ValidateName(name); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{InstanceName: name, ListenAddr: *listenFlag}),
	)

	app.Run()
}
