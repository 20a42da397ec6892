package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/loykin/tidwatch/internal/config"
	"github.com/loykin/tidwatch/internal/lifecycle"
	"github.com/loykin/tidwatch/internal/logger"
	"github.com/loykin/tidwatch/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// GlobalFlags holds flags that are not part of RunConfig.
type GlobalFlags struct {
	ConfigPath string
}

// flagKeys maps command-line flags to viper keys.
var flagKeys = map[string]string{
	"host":           "host",
	"port":           "port",
	"debounce":       "debounce",
	"command":        "command",
	"log-dir":        "log.dir",
	"control-listen": "control_listen",
	"log-level":      "log.level",
	"no-color":       "log.no_color",
	"env":            "env",
}

func buildRoot(out io.Writer) *cobra.Command {
	gin.SetMode(gin.ReleaseMode)
	v := config.NewViper()
	flags := &GlobalFlags{}

	root := &cobra.Command{
		Use:   "tidwatch <wiki-dir>",
		Short: "Run a TiddlyWiki server and restart it when tiddlers change",
		Long: `tidwatch starts "tiddlywiki <wiki-dir> --listen" and watches the wiki's
tiddlers directory. Whenever a .tid file is created, modified or deleted the
server is restarted, with bursts of changes collapsed by the debounce window.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			rc, err := config.Load(v, flags.ConfigPath, args[0])
			if err != nil {
				return err
			}
			log := logger.New(out, rc.LoggerOptions())
			slog.SetDefault(log)
			if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
				return fmt.Errorf("register metrics: %w", err)
			}
			ctl := lifecycle.New(rc, log)
			if err := metrics.RegisterServerCollector(prometheus.DefaultRegisterer, rc.ProcessSpec().Name, ctl.ServerPID); err != nil {
				return fmt.Errorf("register metrics: %w", err)
			}
			return ctl.Run(cmd.Context())
		},
	}

	f := root.Flags()
	f.StringVar(&flags.ConfigPath, "config", "", "optional TOML config file")
	f.String("host", "127.0.0.1", "host the wiki server listens on")
	f.Int("port", 8080, "port the wiki server listens on")
	f.Float64("debounce", 1.0, "seconds to ignore further changes after a restart is triggered")
	f.String("command", "tiddlywiki", "server executable")
	f.String("log-dir", "", "directory for rotated server stdout/stderr logs")
	f.String("control-listen", "", "address for the status/restart/metrics endpoint (disabled if empty)")
	f.String("log-level", "info", "log level: debug, info, warn, error")
	f.Bool("no-color", false, "disable colored log output")
	f.StringArray("env", nil, "extra KEY=VALUE environment for the server (repeatable)")
	bindFlags(v, root)
	return root
}

func bindFlags(v *viper.Viper, cmd *cobra.Command) {
	for name, key := range flagKeys {
		if fl := cmd.Flags().Lookup(name); fl != nil {
			_ = v.BindPFlag(key, fl)
		}
	}
}
