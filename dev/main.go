package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	devenv "rakuraku-calendar/dev/env"
	"rakuraku-calendar/lib/scrapers/rakuraku"

	input "github.com/tcnksm/go-input"
)

const credentialsFile = "rakuraku_config.json5"

func askCredentials(ui *input.UI) (devenv.RakurakuTestConfig, error) {
	baseUrl, err := ui.Ask("portal base url:", &input.Options{
		Default: rakuraku.DefaultBaseUrl,
		Loop:    true,
	})
	if err != nil {
		return devenv.RakurakuTestConfig{}, err
	}
	username, err := ui.Ask("portal username:", &input.Options{
		Required: true,
		Loop:     true,
	})
	if err != nil {
		return devenv.RakurakuTestConfig{}, err
	}
	password, err := ui.Ask("portal password:", &input.Options{
		Required: true,
		Loop:     true,
		Mask:     true,
	})
	if err != nil {
		return devenv.RakurakuTestConfig{}, err
	}
	return devenv.RakurakuTestConfig{
		BaseUrl:  baseUrl,
		Username: username,
		Password: password,
	}, nil
}

func setupLiveTests() error {
	path, err := devenv.GetStateFilePath(credentialsFile)
	if err != nil {
		return err
	}
	_, err = os.Stat(path)
	if err == nil {
		slog.Info("portal credentials have already been provided", "path", path)
		return nil
	}
	if !os.IsNotExist(err) {
		return err
	}

	config, err := askCredentials(input.DefaultUI())
	if err != nil {
		return err
	}
	contents, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, contents, 0600)
}

func create(recreate bool) error {
	root, err := devenv.GetWorkspaceRoot()
	if err != nil {
		return fmt.Errorf("the dev environment must be created inside the repository: %w", err)
	}
	state := filepath.Join(root, "dev", ".state")

	if recreate {
		err = os.RemoveAll(state)
		if err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	err = os.MkdirAll(state, 0700)
	if err != nil {
		return err
	}

	return setupLiveTests()
}

func main() {
	recreate := flag.Bool("recreate", false, "recreate the dev environment from scratch")
	flag.Parse()

	err := create(*recreate)
	if err != nil {
		slog.Error("failed to create dev environment", "err", err.Error())
		os.Exit(1)
	}

	slog.Info("dev environment created successfully!")
}
