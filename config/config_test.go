package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"github.com/sergev/snap/acquisition"
)

func TestDefault(t *testing.T) {
	conf := Default()
	if err := conf.Validate(); err != nil {
		t.Fatalf("embedded config is invalid: %v", err)
	}
	if conf.Acquisition.SampleRate != acquisition.DefaultSampleRate ||
		conf.Acquisition.Limit != acquisition.DefaultSampleLimit ||
		conf.Acquisition.CaptureRatio != acquisition.DefaultCaptureRatio {
		t.Errorf("acquisition defaults = %+v", conf.Acquisition)
	}
	if conf.Timing.ReadTimeout != 20*time.Millisecond || conf.Timing.ResponseTimeout != 2*time.Second {
		t.Errorf("timing defaults = %+v", conf.Timing)
	}
	if conf.Stall != acquisition.DefaultEmptyReadBudget() {
		t.Errorf("stall defaults = %+v", conf.Stall)
	}
	if conf.Analog != acquisition.DefaultAnalogScale() {
		t.Errorf("analog defaults = %+v", conf.Analog)
	}
	vid, pid, err := conf.Device.IDs()
	if err != nil || vid != 0x0483 || pid != 0x5740 {
		t.Errorf("IDs() = %04x:%04x, %v", vid, pid, err)
	}
}

func TestInitializeCreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", ".snap")
	conf, err := Initialize(path)
	if err != nil {
		t.Fatalf("Initialize() returned error: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("config file was not created: %v", err)
	}
	if !strings.Contains(string(data), "[acquisition]") {
		t.Errorf("created file is not the default TOML")
	}
	if conf.Server.Listen != "127.0.0.1:8080" {
		t.Errorf("Listen = %q", conf.Server.Listen)
	}
}

func TestInitializeYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snap.yaml")
	if _, err := Initialize(path); err != nil {
		t.Fatalf("Initialize() returned error: %v", err)
	}
	// The generated YAML must load back to the defaults
	conf, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if conf.Timing != Default().Timing {
		t.Errorf("timing = %+v", conf.Timing)
	}
}

func TestLoadOverrides(t *testing.T) {
	dir := t.TempDir()

	toml := filepath.Join(dir, "snap.toml")
	os.WriteFile(toml, []byte(`
[device]
port = "/dev/ttyACM1"
backend = "tarm"

[acquisition]
mode = "scope"
samplerate = 50000

[timing]
read_timeout = "5ms"
`), 0644)
	conf, err := Load(toml)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if conf.Device.Link() != "tarm:///dev/ttyACM1" {
		t.Errorf("Link() = %q", conf.Device.Link())
	}
	mode, ok, _ := conf.Acquisition.ParseMode()
	if !ok || mode != acquisition.Oscilloscope {
		t.Errorf("ParseMode() = %v, %v", mode, ok)
	}
	if conf.Acquisition.SampleRate != 50000 || conf.Acquisition.Limit != acquisition.DefaultSampleLimit {
		t.Errorf("acquisition = %+v", conf.Acquisition)
	}
	if conf.Timing.ReadTimeout != 5*time.Millisecond || conf.Timing.PollDelay != time.Millisecond {
		t.Errorf("timing = %+v", conf.Timing)
	}

	yml := filepath.Join(dir, "snap.yml")
	os.WriteFile(yml, []byte("redis:\n  addr: localhost:6379\nstall:\n  stall: 50\n"), 0644)
	conf, err = Load(yml)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if conf.Redis.Addr != "localhost:6379" || conf.Redis.Channel != "snap" || conf.Stall.Stall != 50 {
		t.Errorf("yaml overrides = %+v %+v", conf.Redis, conf.Stall)
	}
}

func TestLoadRejects(t *testing.T) {
	tests := map[string]string{
		"unknown key":   "[device]\nspeed = 1\n",
		"bad vid":       "[device]\nvid = \"xyz\"\n",
		"bad backend":   "[device]\nbackend = \"usb\"\n",
		"bad mode":      "[acquisition]\nmode = \"spectrum\"\n",
		"zero rate":     "[acquisition]\nsamplerate = 0\n",
		"ratio":         "[acquisition]\ncapture_ratio = 101\n",
		"stall order":   "[stall]\nwarn = 300\n",
		"analog span":   "[analog]\nmax_code = 0\n",
		"log level":     "[log]\nlevel = \"loud\"\n",
		"negative wait": "[timing]\npoll_delay = \"-1ms\"\n",
	}
	for name, body := range tests {
		path := filepath.Join(t.TempDir(), "snap.toml")
		os.WriteFile(path, []byte(body), 0644)
		if _, err := Load(path); err == nil {
			t.Errorf("%s: Load() accepted %q", name, body)
		}
	}
}

func TestControllerOptionsAndLogger(t *testing.T) {
	conf := Default()
	if n := len(conf.ControllerOptions()); n != 7 {
		t.Errorf("ControllerOptions() returned %d options", n)
	}

	conf.Log.Level = "debug"
	conf.Log.Format = "json"
	logger, _ := logtest.NewNullLogger()
	if err := conf.ConfigureLogger(logger); err != nil {
		t.Fatalf("ConfigureLogger() returned error: %v", err)
	}
	if logger.GetLevel() != logrus.DebugLevel {
		t.Errorf("level = %v", logger.GetLevel())
	}
	if _, ok := logger.Formatter.(*logrus.JSONFormatter); !ok {
		t.Errorf("formatter = %T", logger.Formatter)
	}
}
