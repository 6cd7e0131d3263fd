package gatt

import (
	"testing"

	"go.viam.com/test"
)

func TestParseNetworkStatus(t *testing.T) {
	cases := map[string]NetworkStatus{
		"connected":         NetworkStatusConnected,
		"CONNECTED":         NetworkStatusConnected,
		" disconnected\n":   NetworkStatusDisconnected,
		"no_internet":       NetworkStatusNoInternet,
		"no_server\x00\x00": NetworkStatusNoServer,
		"bad_ssid":          NetworkStatusBadSSID,
		"bad_pass":          NetworkStatusBadPassword,
		"bad_password":      NetworkStatusBadPassword,
		"failed":            NetworkStatusFailed,
		"":                  NetworkStatusUnrecognized,
		"associating":       NetworkStatusUnrecognized,
	}
	for in, want := range cases {
		test.That(t, ParseNetworkStatus([]byte(in)), test.ShouldEqual, want)
	}
	test.That(t, NetworkStatusBadPassword.String(), test.ShouldEqual, "bad_password")
	test.That(t, NetworkStatusUnrecognized.String(), test.ShouldEqual, "unrecognized")
}

func TestParseScanResults(t *testing.T) {
	results, err := ParseScanResults([]byte(`{"scanresults":[
		{"ssid":"home","security":"WPA2","channel":6,"signal":-40},
		{"ssid":"cafe","security":"None","channel":11,"signal":-80}
	]}` + "\x00"))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(results), test.ShouldEqual, 2)
	test.That(t, results[0], test.ShouldResemble, ScanResult{SSID: "home", Security: "WPA2", Channel: 6, Signal: -40})
	test.That(t, results[0].Secure(), test.ShouldBeTrue)
	test.That(t, results[1].Secure(), test.ShouldBeFalse)

	results, err = ParseScanResults([]byte(`{}`))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, results, test.ShouldBeEmpty)

	_, err = ParseScanResults([]byte(`not json`))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestMACFromName(t *testing.T) {
	test.That(t, MACFromName("Iris_Plug_A1B2C3D4E5F6"), test.ShouldEqual, "A1B2C3D4E5F6")
	test.That(t, MACFromName("Iris_Camera_a1b2c3d4e5f6"), test.ShouldEqual, "A1B2C3D4E5F6")
	test.That(t, MACFromName("Hub-A1:B2:C3:D4:E5:F6"), test.ShouldEqual, "A1B2C3D4E5F6")
	test.That(t, MACFromName("Iris_Plug"), test.ShouldEqual, "")
	test.That(t, MACFromName("Iris_Plug_A1B2C3"), test.ShouldEqual, "")
}

func TestCharacteristicName(t *testing.T) {
	test.That(t, CharacteristicName(StatusCharUUID), test.ShouldEqual, "status")
	test.That(t, CharacteristicName(SerialNumberCharUUID), test.ShouldEqual, "serial_number")
	test.That(t, CharacteristicName(WiFiConfigServiceUUID), test.ShouldEqual, WiFiConfigServiceUUID.String())
}
