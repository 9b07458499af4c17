package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	log "github.com/sirupsen/logrus"
)

const envPrefix = "TASKMANAGER_"

type Application struct {
	LogLevel string   `koanf:"loglevel"`
	Database Database `koanf:"db"`
	Google   Google   `koanf:"google"`
	Sync     Sync     `koanf:"sync"`
	ICS      ICS      `koanf:"ics"`
	Daemon   Daemon   `koanf:"daemon"`
}

type Database struct {
	// Driver is either "sqlite" or "postgres".
	Driver string `koanf:"driver"`
	Path   string `koanf:"path"`
	Host   string `koanf:"host"`
	Port   int    `koanf:"port"`
	User   string `koanf:"user"`
	Pass   string `koanf:"pass"`
	Name   string `koanf:"name"`
	Schema string `koanf:"schema"`
}

type Google struct {
	ClientId     string `koanf:"clientid"`
	ClientSecret string `koanf:"clientsecret"`
	RedirectUrl  string `koanf:"redirecturl"`
	CalendarId   string `koanf:"calendarid"`
}

type Sync struct {
	MaxResults       int    `koanf:"maxresults"`
	StoreOccurrences bool   `koanf:"storeoccurrences"`
	Schedule         string `koanf:"schedule"`
	Tick             string `koanf:"tick"`
}

type ICS struct {
	HorizonDays int           `koanf:"horizondays"`
	Timeout     time.Duration `koanf:"timeout"`
}

type Daemon struct {
	Listen  string `koanf:"listen"`
	PidFile string `koanf:"pidfile"`
}

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Defaults returns the configuration used before any file or environment override is applied.
func Defaults() Application {
	return Application{
		LogLevel: "info",
		Database: Database{
			Driver: DriverSQLite,
			Path:   defaultDatabasePath(),
			Host:   "localhost",
			Port:   5432,
			User:   "task_manager",
			Pass:   "",
			Name:   "task_manager",
			Schema: "task_manager",
		},
		Google: Google{
			RedirectUrl: "http://localhost",
			CalendarId:  "primary",
		},
		Sync: Sync{
			MaxResults:       100,
			StoreOccurrences: true,
			Schedule:         "*/15 * * * *",
			Tick:             "@every 1m",
		},
		ICS: ICS{
			HorizonDays: 90,
			Timeout:     15 * time.Second,
		},
		Daemon: Daemon{
			Listen:  "127.0.0.1:8182",
			PidFile: defaultPidFile(),
		},
	}
}

func Load(path string) (Application, error) {
	var k = koanf.New(".")

	err := k.Load(structs.Provider(Defaults(), "koanf"), nil)
	if err != nil {
		log.Errorf("error loading config from structs: %v", err)
		return Application{}, err
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			if os.IsNotExist(err) {
				log.Debugf("Config file not found at %s, using defaults and environment variables", path)
			} else {
				log.Errorf("error loading config from YAML: %v", err)
				return Application{}, err
			}
		} else {
			log.Infof("Loaded configuration from file: %s", path)
		}
	}

	err = k.Load(env.Provider(".", env.Opt{
		Prefix: envPrefix,
		TransformFunc: func(k, v string) (string, any) {
			k = strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(k, envPrefix)), "_", ".")
			return k, v
		},
	}), nil)
	if err != nil {
		log.Errorf("error loading config from envs: %v", err)
		return Application{}, err
	}

	var app Application
	if err := k.Unmarshal("", &app); err != nil {
		return Application{}, err
	}

	return app, nil
}

// DefaultConfigPath is $XDG_CONFIG_HOME/task_manager/config.yaml.
func DefaultConfigPath() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "config.yaml"
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "task_manager", "config.yaml")
}

func defaultDatabasePath() string {
	base := os.Getenv("XDG_DATA_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "task_manager.sqlite3"
		}
		base = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(base, "task_manager", "task_manager.sqlite3")
}

func defaultPidFile() string {
	base := os.Getenv("XDG_RUNTIME_DIR")
	if base == "" {
		base = os.TempDir()
	}
	return filepath.Join(base, "task_manager.pid")
}
