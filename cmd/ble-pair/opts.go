package main

import (
	"bytes"
	"fmt"

	"github.com/jessevdk/go-flags"
)

//nolint:lll
type pairOpts struct {
	Config  string `default:"/etc/ble-pair.json"           description:"Path to config file"                       long:"config"  short:"c"`
	Debug   bool   `description:"Enable debug logging"     env:"BLE_PAIR_DEBUG"                                    long:"debug"   short:"d"`
	Help    bool   `description:"Show this help message"   long:"help"                                             short:"h"`
	Version bool   `description:"Show version"             long:"version"                                          short:"v"`
	Scan    bool   `description:"List nearby devices and exit" long:"scan"`

	Filter  string `description:"Advertised name prefix to pair (default from config)" long:"filter" short:"f"`
	Address string `description:"Bluetooth address of the device to pair"              long:"address" short:"a"`

	SSID     string `description:"Network the device should join"             long:"ssid"`
	Password string `description:"Network password"                           long:"password"`
	Security string `default:"WPA2"                                            description:"Network security type, NONE for open networks" long:"security"`
	Networks bool   `description:"Ask the device which networks it can see first" long:"networks" short:"n"`

	Reconnect     bool              `description:"Move an already paired device to a new network" long:"reconnect" short:"r"`
	DeviceAddress string            `description:"Platform address of the device (reconnect only)" long:"device-address"`
	Place         string            `description:"Place to claim the device into (default from config)" long:"place"`
	Attrs         map[string]string `description:"Extra claim attributes, ex: ipcd:vendor=Swann" key-value-delimiter:"=" long:"attr"`
	NATS          string            `description:"Cloud bus URL (default from config)" long:"nats"`
	AutoConnect   bool              `description:"Keep retrying the bluetooth connection" long:"auto-connect"`
	BleRetries    int               `default:"1" description:"Reconnects to try if the bluetooth link drops" long:"ble-retries"`
}

func parseOpts() (pairOpts, bool) {
	var opts pairOpts
	parser := flags.NewParser(&opts, flags.IgnoreUnknown)
	parser.Usage = "pairs a device over bluetooth: writes wifi credentials, watches it join and registers it with the platform."

	_, err := parser.Parse()
	if err != nil {
		panic(err)
	}

	if !opts.Scan && !opts.Version && opts.SSID == "" && !opts.Networks {
		opts.Help = true
	}

	if opts.Help {
		var b bytes.Buffer
		parser.WriteHelp(&b)
		//nolint:forbidigo
		fmt.Println(b.String())
		return opts, false
	}

	if opts.Reconnect && opts.SSID == "" {
		//nolint:forbidigo
		fmt.Println("Error: --reconnect needs --ssid")
		return opts, false
	}
	return opts, true
}
