package main

import (
	"fmt"
	"time"

	"github.com/nilsby/godlms/apdu"
	"github.com/nilsby/godlms/client"
	"github.com/nilsby/godlms/obis"
	"github.com/nilsby/godlms/transport"
	"github.com/nilsby/godlms/wrapper"
	"github.com/spf13/cobra"
)

type getFlags struct {
	config string
}

func newGetCmd() *cobra.Command {
	flags := &getFlags{}

	cmd := &cobra.Command{
		Use:   "get",
		Short: "Associate with a meter over TCP and read one attribute",
		Example: `  dlmsget get --config meter.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGet(flags)
		},
	}
	cmd.Flags().StringVar(&flags.config, "config", "dlmsget.yaml", "connection config file")
	return cmd
}

func runGet(flags *getFlags) error {
	cfg, err := loadConnectionConfig(flags.config)
	if err != nil {
		return err
	}

	code, err := obis.Parse(cfg.OBIS)
	if err != nil {
		return fmt.Errorf("invalid obis %q: %w", cfg.OBIS, err)
	}

	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	tcpStream := transport.NewTCP(cfg.Host, cfg.Port, timeout)

	stream, err := wrapper.New(tcpStream, 1, 1)
	if err != nil {
		return fmt.Errorf("build wrapper transport: %w", err)
	}

	var settings *client.Settings
	if cfg.Password != "" {
		settings, err = client.NewSettingsWithLowAuthentication(cfg.Password)
		if err != nil {
			return fmt.Errorf("build settings: %w", err)
		}
	} else {
		settings = client.NewSettingsWithNoAuthentication()
	}

	conn := client.NewConnection(stream, settings)
	if err := conn.Associate(); err != nil {
		return fmt.Errorf("associate: %w", err)
	}
	defer conn.Close()

	value, err := conn.Get(apdu.GetRequestItem{
		Attribute: apdu.AttributeRef{
			Class:     cfg.Class,
			Instance:  code,
			Attribute: cfg.Attribute,
		},
	})
	if err != nil {
		return fmt.Errorf("get: %w", err)
	}

	fmt.Printf("%s/%d attribute %d = %v\n", code, cfg.Class, cfg.Attribute, value.Value)
	return nil
}
