package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/nightlyone/lockfile"
	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	goutils "go.viam.com/utils"

	"github.com/arcushome/blepairing/internal/blecrypto"
	"github.com/arcushome/blepairing/internal/cloud"
	"github.com/arcushome/blepairing/internal/gatt"
	"github.com/arcushome/blepairing/internal/pairing"
	"github.com/arcushome/blepairing/utils"
)

var (
	activeBackgroundWorkers sync.WaitGroup

	// only changed/set at startup, so no mutex.
	globalLogger = logging.NewLogger("ble-pair")
)

func main() {
	opts, ok := parseOpts()
	if !ok {
		return
	}

	if opts.Version {
		//nolint:forbidigo
		fmt.Printf("Version: %s\nGit Revision: %s\n", utils.GetVersion(), utils.GetRevision())
		return
	}

	ctx, cancel := setupExitSignalHandling()
	defer func() {
		cancel()
		activeBackgroundWorkers.Wait()
	}()

	utils.ConfigFilePath = opts.Config
	utils.CLIDebug = opts.Debug
	cfg, err := utils.LoadConfig(utils.ConfigFilePath)
	if err != nil {
		// LoadConfig always returns something usable
		globalLogger.Warn(errors.Wrap(err, "loading config"))
	}
	cfg = utils.ApplyCLIArgs(cfg)
	if cfg.Debug.Get() {
		globalLogger.SetLevel(logging.DEBUG)
	}

	// only one process may own the radio
	pidFile, err := getLock()
	exitIfError(err)
	defer func() {
		if err := pidFile.Unlock(); err != nil {
			globalLogger.Error(errors.Wrapf(err, "unlocking %s", pidFile))
		}
	}()

	radio, err := gatt.NewTinyGoRadio(globalLogger.Sublogger("radio"))
	exitIfError(err)

	filter := opts.Filter
	if filter == "" {
		filter = cfg.Bluetooth.NameFilter
	}

	if opts.Scan {
		exitIfError(scanOnly(ctx, radio, filter))
		return
	}

	if err := pair(ctx, opts, cfg, radio, filter); err != nil {
		globalLogger.Error(err)
		cancel()
		activeBackgroundWorkers.Wait()
		//nolint:gocritic
		os.Exit(1)
	}
}

func matcher(filter, address string) func(gatt.Device) bool {
	return func(d gatt.Device) bool {
		if address != "" {
			return strings.EqualFold(d.Address, address)
		}
		return strings.HasPrefix(strings.ToLower(d.Name), strings.ToLower(filter))
	}
}

func scanOnly(ctx context.Context, radio *gatt.TinyGoRadio, filter string) error {
	//nolint:forbidigo
	fmt.Printf("Scanning for devices named %s*...\n", filter)
	ctx, cancel := context.WithTimeout(ctx, time.Second*30)
	defer cancel()
	return radio.Scan(ctx, matcher(filter, ""), func(d gatt.Device) bool {
		//nolint:forbidigo
		fmt.Printf("Found device: %s [%s] %d dBm (%s)\n", d.Name, d.Address, d.RSSI, pairing.ParseDeviceClass(d.Name))
		return true
	})
}

func pair(ctx context.Context, opts pairOpts, cfg utils.Config, radio *gatt.TinyGoRadio, filter string) error {
	natsURL := opts.NATS
	if natsURL == "" {
		natsURL = cfg.Cloud.NATSURL
	}
	cloudClient, err := cloud.DialNATS(natsURL, cfg.Cloud.SubjectPrefix,
		time.Duration(cfg.Cloud.RequestTimeout), globalLogger.Sublogger("cloud"))
	if err != nil {
		return err
	}

	encryptor, err := blecrypto.NewEncryptor(cfg.Crypto.SharedSecret, cfg.Crypto.SharedIV)
	if err != nil {
		// open networks can still be provisioned
		globalLogger.Warn(errors.Wrap(err, "credential encryption is not configured"))
		encryptor = nil
	}

	findCtx, findCancel := context.WithTimeout(ctx, time.Second*30)
	device, err := radio.FindDevice(findCtx, matcher(filter, opts.Address))
	findCancel()
	if err != nil {
		return errors.Wrapf(err, "looking for %s", filter)
	}
	globalLogger.Infow("found device", "name", device.Name, "address", device.Address, "rssi", device.RSSI)

	session := gatt.NewSession(globalLogger.Sublogger("gatt"), radio, encryptor, time.Duration(cfg.Bluetooth.ConnectTimeout))
	view := newConsoleView(globalLogger)
	coordinator := pairing.NewCoordinator(globalLogger.Sublogger("pairing"), session, cloudClient, view, pairing.SettingsFromConfig(cfg))
	defer func() {
		coordinator.Cancel()
		view.finish()
		if err := cloudClient.Close(); err != nil {
			globalLogger.Debug(errors.Wrap(err, "closing cloud connection"))
		}
	}()

	placeID := opts.Place
	if placeID == "" {
		placeID = cfg.Cloud.PlaceID
	}
	err = coordinator.Start(ctx, device, pairing.Options{
		PlaceID:       placeID,
		DeviceAddress: opts.DeviceAddress,
		AutoConnect:   opts.AutoConnect || cfg.Bluetooth.AutoConnect.Get(),
	})
	if err != nil {
		return err
	}

	state := waitFor(ctx, coordinator, view, func(s pairing.State) bool { return s != pairing.StateAwaitingBleConnection })
	for i := 0; state == pairing.StateError && i < opts.BleRetries && ctx.Err() == nil; i++ {
		state = reconnectBle(ctx, coordinator, view)
	}
	if state != pairing.StateBleConnected {
		return errors.Errorf("bluetooth connection failed (%s)", state)
	}

	if opts.Networks {
		if err := listNetworks(ctx, coordinator, view); err != nil {
			return err
		}
		if opts.SSID == "" {
			return nil
		}
	}

	info := pairing.WiFiConnectInformation{
		SSID:     opts.SSID,
		Password: opts.Password,
		Security: opts.Security,
		Extra:    opts.Attrs,
	}
	if err := coordinator.UpdateWiFiCredentials(info, opts.Reconnect); err != nil {
		return err
	}

	state = waitFor(ctx, coordinator, view, func(s pairing.State) bool {
		return s.Terminal() || s == pairing.StateWifiFailed
	})
	switch state {
	case pairing.StateSuccess:
		globalLogger.Infow("pairing finished", "device", device.Name)
		return nil
	default:
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errors.Errorf("pairing did not finish (%s)", state)
	}
}

// reconnectBle re-attaches to the device after a failed or dropped link and waits for the outcome.
func reconnectBle(ctx context.Context, c *pairing.Coordinator, view *consoleView) pairing.State {
	globalLogger.Info("bluetooth link lost, reconnecting")
	view.drainBle()
	if err := c.Reconnect(ctx); err != nil {
		return c.State()
	}
	for {
		select {
		case s := <-view.ble:
			if s == pairing.BleConnectFailure {
				return c.State()
			}
			if s == pairing.BleConnecting {
				return waitFor(ctx, c, view, func(st pairing.State) bool { return st != pairing.StateAwaitingBleConnection })
			}
		case <-time.After(time.Second * 5):
			return c.State()
		case <-ctx.Done():
			return c.State()
		}
	}
}

func listNetworks(ctx context.Context, c *pairing.Coordinator, view *consoleView) error {
	if err := c.ScanForWiFiNetworks(); err != nil {
		return err
	}
	select {
	case networks := <-view.networks:
		for _, n := range networks {
			lock := ""
			if n.Secure() {
				lock = " " + n.Security
			}
			//nolint:forbidigo
			fmt.Printf("  %s (ch %d, %d dBm)%s\n", n.SSID, n.Channel, n.Signal, lock)
		}
		return nil
	case <-time.After(time.Second * 15):
		return errors.New("device did not return a network list")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// waitFor polls the coordinator until done accepts its state or ctx ends.
func waitFor(ctx context.Context, c *pairing.Coordinator, view *consoleView, done func(pairing.State) bool) pairing.State {
	for {
		s := c.State()
		if done(s) {
			return s
		}
		view.tick()
		if !goutils.SelectContextOrWait(ctx, time.Millisecond*100) {
			return c.State()
		}
	}
}

func setupExitSignalHandling() (context.Context, func()) {
	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 16)
	activeBackgroundWorkers.Add(1)
	go func() {
		defer activeBackgroundWorkers.Done()
		defer cancel()
		select {
		case <-ctx.Done():
		case sig := <-sigChan:
			globalLogger.Infow("exiting", "signal", sig)
			signal.Ignore(os.Interrupt, syscall.SIGTERM)
		}
	}()

	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	return ctx, cancel
}

// helper to log.Fatal if error is non-nil.
func exitIfError(err error) {
	if err != nil {
		globalLogger.Fatal(err)
	}
}

func getLock() (lockfile.Lockfile, error) {
	path, err := utils.LockFilePath()
	if err != nil {
		return "", errors.Wrap(err, "creating state directory")
	}
	pidFile, err := lockfile.New(path)
	if err != nil {
		return "", errors.Wrap(err, "init lockfile")
	}
	err = pidFile.TryLock()
	if err == nil {
		return pidFile, nil
	}

	globalLogger.Warn(errors.Wrapf(err, "locking %s", pidFile))

	// if it's a potentially temporary error, retry
	if errors.Is(err, lockfile.ErrBusy) || errors.Is(err, lockfile.ErrNotExist) {
		time.Sleep(2 * time.Second)
		globalLogger.Warn("retrying lock")
		err = pidFile.TryLock()
		if err == nil {
			return pidFile, nil
		}
		if errors.Is(err, lockfile.ErrBusy) {
			proc, ownerErr := pidFile.GetOwner()
			if ownerErr == nil {
				return "", errors.Errorf("another ble-pair is already using the radio, PID: %d", proc.Pid)
			}
		}
	}
	return "", err
}
