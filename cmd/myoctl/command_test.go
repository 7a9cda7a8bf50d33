package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/myoctl/internal/device"
	"github.com/srg/myoctl/internal/devicefactory"
	"github.com/srg/myoctl/internal/protocol"
	"github.com/srg/myoctl/internal/session"
	"github.com/srg/myoctl/internal/testutils"
	"github.com/srg/myoctl/scanner"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

const myoAddress = "D0:12:34:56:78:9A"

// CommandTestSuite runs commands against a mock transport and a fake armband.
type CommandTestSuite struct {
	suite.Suite

	transport       *testutils.MockTransport
	conn            *testutils.FakeConnection
	originalFactory func(*logrus.Logger) (device.Transport, error)
}

func (s *CommandTestSuite) SetupTest() {
	s.T().Setenv("HOME", s.T().TempDir())

	s.transport = &testutils.MockTransport{}
	s.conn = testutils.NewFakeConnection()
	s.conn.Values[uint16(protocol.BatteryHandle)] = []byte{85}
	s.conn.Values[uint16(protocol.FirmwareHandle)] = []byte{1, 0, 5, 0, 0xb2, 0x07, 2, 0}

	s.originalFactory = devicefactory.TransportFactory
	devicefactory.TransportFactory = func(*logrus.Logger) (device.Transport, error) {
		return s.transport, nil
	}
}

func (s *CommandTestSuite) TearDownTest() {
	devicefactory.TransportFactory = s.originalFactory
}

func (s *CommandTestSuite) expectMyo() {
	s.transport.ScanReturning(
		testutils.CreateMyoAdvertisement(myoAddress).Build(),
		testutils.CreateMockAdvertisement("Heart Rate", "AA:BB:CC:DD:EE:FF", -70).Build(),
	)
	s.transport.On("Connect", mock.Anything, myoAddress, mock.Anything).Return(s.conn, nil)
}

// ExecuteCommand runs a fresh root command, returns stdout, stderr and error.
func (s *CommandTestSuite) ExecuteCommand(args ...string) (string, string, error) {
	root := newRootCmd()
	stdout, stderr := new(bytes.Buffer), new(bytes.Buffer)
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetArgs(append(args, "--scan-window=5ms", "--settle-delay=0s"))
	err := root.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

// notifyUntilDone keeps delivering a notification until stop is closed, so
// it lands once the stream is open whatever the scheduling.
func (s *CommandTestSuite) notifyUntilDone(handle protocol.Handle, payload []byte) (stop func()) {
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(5 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				s.conn.Notify(uint16(handle), payload)
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}

func (s *CommandTestSuite) writes() []testutils.Write {
	return s.conn.Writes()
}

func (s *CommandTestSuite) TestHandles_Table() {
	stdout, _, err := s.ExecuteCommand("handles")
	s.Require().NoError(err)

	testutils.NewTextAsserter(s.T()).Assert(stdout, `
ENDPOINT      HANDLE  CONFIG  UPDATES
battery       0x11    0x12    notify
firmware      0x17    -       none
command       0x19    -       none
imu           0x1c    0x1d    notify
classifier    0x23    0x24    indicate
emg-filtered  0x27    0x28    notify
emg-raw-0     0x2b    0x2c    notify
emg-raw-1     0x2e    0x2f    notify
emg-raw-2     0x31    0x32    notify
emg-raw-3     0x34    0x35    notify
led-control   0x19    -       none
`)
	s.transport.AssertNotCalled(s.T(), "Scan", mock.Anything, mock.Anything)
}

func (s *CommandTestSuite) TestHandles_JSONKeepsHandleOrder() {
	stdout, _, err := s.ExecuteCommand("handles", "-f", "json")
	s.Require().NoError(err)

	testutils.NewJSONAsserter(s.T()).Assert(stdout, `{
		"battery":     {"handle": 17, "config_handle": 18, "subscription": "notify"},
		"classifier":  {"handle": 35, "config_handle": 36, "subscription": "indicate"},
		"led-control": {"handle": 25, "subscription": "none"}
	}`)
	s.Less(strings.Index(stdout, `"battery"`), strings.Index(stdout, `"emg-raw-3"`), "endpoints MUST be listed in handle order")
}

func (s *CommandTestSuite) TestScan_ListsOnlyMyoByDefault() {
	// GOAL: Verify scan recognizes armbands by service signature and hides other devices
	//
	// TEST SCENARIO: Myo and heart rate monitor advertise → JSON lists only the Myo

	s.expectMyo()

	stdout, _, err := s.ExecuteCommand("scan", "-d", "30ms", "-f", "json")
	s.Require().NoError(err)

	var entries []scanner.DeviceEntry
	s.Require().NoError(json.Unmarshal([]byte(stdout), &entries), "scan output MUST be JSON")
	s.Require().Len(entries, 1, "only the armband MUST be listed")
	s.Equal(myoAddress, entries[0].Advertisement.Address)
	s.True(entries[0].IsMyo)
}

func (s *CommandTestSuite) TestScan_AllListsEveryDevice() {
	s.expectMyo()

	stdout, _, err := s.ExecuteCommand("scan", "-d", "30ms", "--all")
	s.Require().NoError(err)

	s.Contains(stdout, myoAddress)
	s.Contains(stdout, "AA:BB:CC:DD:EE:FF")
	s.Less(strings.Index(stdout, myoAddress), strings.Index(stdout, "AA:BB:CC:DD:EE:FF"), "armbands MUST be listed first")
}

func (s *CommandTestSuite) TestScan_BlockList() {
	s.expectMyo()

	stdout, _, err := s.ExecuteCommand("scan", "-d", "30ms", "--all", "--block", "aa:bb:cc:dd:ee:ff")
	s.Require().NoError(err)

	s.Contains(stdout, myoAddress)
	s.NotContains(stdout, "AA:BB:CC:DD:EE:FF", "blocked address MUST NOT be listed")
}

func (s *CommandTestSuite) TestScan_WatchPrintsNewDevicesOnce() {
	s.expectMyo()

	stdout, _, err := s.ExecuteCommand("scan", "-d", "30ms", "--watch")
	s.Require().NoError(err)

	s.Equal(1, strings.Count(stdout, "+ Myo D0:12:34:56:78:9A -45 dBm [myo]"), "a device MUST be announced once, got:\n%s", stdout)
	s.NotContains(stdout, "+ Heart Rate", "filtered devices MUST NOT be announced")
}

func (s *CommandTestSuite) TestInfo_ReadsFirmwareAndBattery() {
	s.expectMyo()

	stdout, _, err := s.ExecuteCommand("info", "-f", "json")
	s.Require().NoError(err)

	testutils.NewJSONAsserter(s.T()).Strict().Assert(stdout, testutils.MustJSON(deviceInfo{
		Session:  testutils.Presence,
		Address:  myoAddress,
		Firmware: "1.5.1970.2",
		Battery:  85,
	}))
	s.True(s.conn.Closed(), "connection MUST be closed when the command ends")
}

func (s *CommandTestSuite) TestLeds_WritesColors() {
	s.expectMyo()

	_, _, err := s.ExecuteCommand("leds", "ff0000", "#0000ff")
	s.Require().NoError(err)

	s.Equal([]testutils.Write{
		{Handle: 0x19, Data: []byte{0x06, 0x06, 0xff, 0x00, 0x00, 0x00, 0x00, 0xff}},
	}, s.writes())
}

func (s *CommandTestSuite) TestLeds_InvalidColorNeverConnects() {
	_, _, err := s.ExecuteCommand("leds", "red", "0000ff")
	s.Require().Error(err)
	s.ErrorIs(err, protocol.ErrInvalidConfiguration)
	s.transport.AssertNotCalled(s.T(), "Scan", mock.Anything, mock.Anything)
}

func (s *CommandTestSuite) TestVibrate_InRange() {
	s.expectMyo()

	_, _, err := s.ExecuteCommand("vibrate", "2")
	s.Require().NoError(err)
	s.Equal([]testutils.Write{{Handle: 0x19, Data: []byte{0x03, 0x01, 0x02}}}, s.writes())
}

func (s *CommandTestSuite) TestVibrate_OutOfRangeSendsNothing() {
	s.expectMyo()

	_, stderr, err := s.ExecuteCommand("vibrate", "7")
	s.Require().NoError(err, "out of range length MUST NOT fail")
	s.Empty(s.writes(), "nothing MUST be written")
	s.Contains(stderr, "out of range")
}

func (s *CommandTestSuite) TestVibrate_NotANumber() {
	_, _, err := s.ExecuteCommand("vibrate", "long")
	s.Error(err)
	s.transport.AssertNotCalled(s.T(), "Scan", mock.Anything, mock.Anything)
}

func (s *CommandTestSuite) TestMode_WritesSetMode() {
	s.expectMyo()

	stdout, _, err := s.ExecuteCommand("mode", "--emg", "raw", "--imu", "data")
	s.Require().NoError(err)

	s.Equal([]testutils.Write{{Handle: 0x19, Data: []byte{0x01, 0x03, 0x02, 0x01, 0x00}}}, s.writes())
	s.Contains(stdout, "Mode set: emg=raw imu=data classifier=off")
}

func (s *CommandTestSuite) TestMode_UnknownModeRejected() {
	_, _, err := s.ExecuteCommand("mode", "--emg", "turbo")
	s.ErrorIs(err, protocol.ErrInvalidConfiguration)
	s.transport.AssertNotCalled(s.T(), "Scan", mock.Anything, mock.Anything)
}

func (s *CommandTestSuite) TestStream_NothingToStream() {
	_, _, err := s.ExecuteCommand("stream", "--emg", "off", "--imu", "off")
	s.Require().Error(err)
	s.Contains(err.Error(), "nothing to stream")
}

func (s *CommandTestSuite) TestStream_RecordAndReplay() {
	// GOAL: Verify a streamed session is printed, recorded and replayed identically
	//
	// TEST SCENARIO: stream battery for a short duration → JSON lines printed → replay prints the same readings

	s.expectMyo()
	recording := filepath.Join(s.T().TempDir(), "session.cbor")

	stop := s.notifyUntilDone(protocol.BatteryHandle, []byte{77})
	stdout, _, err := s.ExecuteCommand("stream", "--emg", "off", "--imu", "off", "--battery",
		"-d", "300ms", "-f", "json", "--record", recording)
	stop()
	s.Require().NoError(err)

	s.Equal([]testutils.Write{
		{Handle: 0x12, Data: []byte{0x01, 0x00}, Subscribe: true},
		{Handle: 0x19, Data: []byte{0x01, 0x03, 0x00, 0x00, 0x00}},
	}, s.writes(), "battery subscription MUST precede the mode write")

	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	s.Require().NotEmpty(lines[0], "at least one reading MUST be printed")
	testutils.NewJSONAsserter(s.T()).Assert(lines[0], `{
		"time": "<<PRESENCE>>",
		"handle": 17,
		"endpoint": "battery",
		"reading": {"level": 77}
	}`)

	replayed, _, err := s.ExecuteCommand("replay", recording, "-f", "json")
	s.Require().NoError(err)
	replayLines := strings.Split(strings.TrimSpace(replayed), "\n")
	s.Equal(len(lines), len(replayLines), "replay MUST return every recorded reading")
	testutils.NewJSONAsserter(s.T()).Assert(replayLines[0], lines[0])

	table, _, err := s.ExecuteCommand("replay", recording, "--endpoint", "imu")
	s.Require().NoError(err)
	s.Contains(table, "No records found", "endpoint filter MUST exclude battery readings")
}

func (s *CommandTestSuite) TestStream_MalformedNotificationsAreReplayed() {
	// GOAL: Verify notifications that fail to decode are recorded and fail again on replay
	//
	// TEST SCENARIO: stream a 2-byte battery payload → error lines printed → replay prints the same errors

	s.expectMyo()
	recording := filepath.Join(s.T().TempDir(), "malformed.cbor")

	stop := s.notifyUntilDone(protocol.BatteryHandle, []byte{0x01, 0x02})
	stdout, _, err := s.ExecuteCommand("stream", "--emg", "off", "--imu", "off", "--battery",
		"-d", "300ms", "-f", "json", "--record", recording)
	stop()
	s.Require().NoError(err, "decode failures MUST NOT end the stream")

	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	s.Require().NotEmpty(lines[0], "at least one error MUST be printed")
	s.Contains(lines[0], `"error":`)
	s.Contains(lines[0], "notification 0x11")

	replayed, _, err := s.ExecuteCommand("replay", recording, "-f", "json")
	s.Require().NoError(err)
	replayLines := strings.Split(strings.TrimSpace(replayed), "\n")
	s.Equal(lines, replayLines, "replay MUST report every recorded error in order")
}

func (s *CommandTestSuite) TestStream_SQLiteSessions() {
	s.expectMyo()
	db := filepath.Join(s.T().TempDir(), "readings.db")

	stop := s.notifyUntilDone(protocol.BatteryHandle, []byte{64})
	_, _, err := s.ExecuteCommand("stream", "--emg", "off", "--imu", "off", "--battery",
		"-d", "200ms", "-f", "json", "--sqlite", db)
	stop()
	s.Require().NoError(err)

	sessions, _, err := s.ExecuteCommand("replay", db, "--sqlite", "--list-sessions")
	s.Require().NoError(err)
	ids := strings.Fields(sessions)
	s.Require().Len(ids, 1, "one session MUST be stored")

	replayed, _, err := s.ExecuteCommand("replay", db, "--sqlite", "--session", ids[0])
	s.Require().NoError(err)
	s.Contains(replayed, "battery")
	s.Contains(replayed, "64%")
}

func (s *CommandTestSuite) TestReplay_ListSessionsNeedsSQLite() {
	_, _, err := s.ExecuteCommand("replay", "session.cbor", "--list-sessions")
	s.Error(err)
}

func (s *CommandTestSuite) TestConfigInit() {
	path := filepath.Join(s.T().TempDir(), "myoctl.yaml")

	stdout, _, err := s.ExecuteCommand("config", "init", "--path", path, "--log-level", "debug")
	s.Require().NoError(err)
	s.Contains(stdout, path)

	data, err := os.ReadFile(path)
	s.Require().NoError(err)
	s.Contains(string(data), "log_level: debug")
	s.Contains(string(data), "settle_delay: 0s", "flag values MUST be written")

	shown, _, err := s.ExecuteCommand("config", "show", "--config", path)
	s.Require().NoError(err)
	s.Contains(shown, "log_level: debug", "config file MUST be loaded")

	_, _, err = s.ExecuteCommand("config", "init", "--path", path)
	s.Error(err, "existing file MUST NOT be overwritten without --force")

	_, _, err = s.ExecuteCommand("config", "init", "--path", path, "--force", "--log-level", "error")
	s.Require().NoError(err)

	shown, _, err = s.ExecuteCommand("config", "show", "--config", path)
	s.Require().NoError(err)
	s.Contains(shown, "log_level: error", "--force MUST replace the file with the current settings")
}

func (s *CommandTestSuite) TestVersion() {
	stdout, _, err := s.ExecuteCommand("version")
	s.Require().NoError(err)
	s.Contains(stdout, "myoctl")
}

func (s *CommandTestSuite) TestConnectFailureIsReported() {
	s.transport.ScanReturning(testutils.CreateMyoAdvertisement(myoAddress).Build())
	s.transport.On("Connect", mock.Anything, myoAddress, mock.Anything).Return(nil, errors.New("le-connection-abort-by-local"))

	_, _, err := s.ExecuteCommand("info")
	s.Require().Error(err)
	s.Contains(FormatUserError(err), "device communication failed during connect")
}

func TestCommandTestSuite(t *testing.T) {
	suite.Run(t, new(CommandTestSuite))
}

func TestFormatUserError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"discovery timeout", session.ErrDiscoveryTimeout, "no Myo armband found"},
		{"cancelled", session.ErrDiscoveryCancelled, "discovery cancelled"},
		{"bluetooth off", device.ErrBluetoothOff, "Bluetooth is turned off"},
		{"connection lost", session.ErrConnectionLost, "connection to the armband was lost"},
		{"transport", &session.TransportError{Op: "write", Err: errors.New("boom")}, "device communication failed during write: boom"},
		{"other", errors.New("something else"), "something else"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Contains(t, FormatUserError(tt.err), tt.want)
		})
	}
}

func TestStreamSubscriptions(t *testing.T) {
	tests := []struct {
		name    string
		mode    protocol.OperatingMode
		battery bool
		want    []protocol.Endpoint
	}{
		{"raw emg", protocol.OperatingMode{Emg: protocol.EmgModeRaw}, false,
			[]protocol.Endpoint{protocol.EmgRaw0, protocol.EmgRaw1, protocol.EmgRaw2, protocol.EmgRaw3}},
		{"filtered emg with imu", protocol.OperatingMode{Emg: protocol.EmgModeFiltered, Imu: protocol.ImuModeAll}, false,
			[]protocol.Endpoint{protocol.EmgFiltered, protocol.Imu}},
		{"battery and classifier", protocol.OperatingMode{Classifier: protocol.ClassifierModeOn}, true,
			[]protocol.Endpoint{protocol.Battery, protocol.Classifier}},
		{"nothing", protocol.OperatingMode{}, false, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, streamSubscriptions(tt.mode, tt.battery))
		})
	}
}

func TestFormatVersion(t *testing.T) {
	assert.Equal(t, "v1.2.3", formatVersion("1.2.3"))
	assert.Equal(t, "dev", formatVersion("dev"))
}
