// cmd/alert-tail/main.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sua-org/ppe-watch/internal/config"
	"github.com/sua-org/ppe-watch/internal/core"
	"github.com/sua-org/ppe-watch/internal/mqttclient"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := command().ExecuteContext(ctx); err != nil {
		log.Printf("[alert-tail] %v", err)
		stop()
		os.Exit(1)
	}
}

func command() *cobra.Command {
	var (
		configFile string
		topic      string
		raw        bool
	)
	cmd := &cobra.Command{
		Use:          "alert-tail",
		Short:        "Print PPE alerts published on MQTT",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			config.LoadDotEnv()
			s, err := config.Load(configFile)
			if err != nil {
				return err
			}
			if topic == "" {
				topic = mqttclient.Topic(s.MQTT.BaseTopic, "+", "alerts")
			}

			cli, err := mqttclient.NewClient(mqttclient.Config{
				Host:     s.MQTT.Host,
				Port:     s.MQTT.Port,
				Username: s.MQTT.Username,
				Password: s.MQTT.Password,
				ClientID: s.MQTT.ClientID + "-tail",
			})
			if err != nil {
				return fmt.Errorf("connect MQTT: %w", err)
			}
			defer cli.Close()

			out := cmd.OutOrStdout()
			err = cli.Subscribe(topic, 1, func(t string, payload []byte) {
				if raw {
					fmt.Fprintf(out, "%s %s\n", t, payload)
					return
				}
				printAlert(out, t, payload)
			})
			if err != nil {
				return fmt.Errorf("subscribe %s: %w", topic, err)
			}
			log.Printf("[alert-tail] subscribed to %s", topic)

			<-cmd.Context().Done()
			log.Printf("[alert-tail] signal received, exiting")
			return nil
		},
	}
	cmd.Flags().StringVarP(&configFile, "config", "c", "", "YAML config file")
	cmd.Flags().StringVarP(&topic, "topic", "t", "", "topic filter (default <MQTT_BASE_TOPIC>/+/alerts)")
	cmd.Flags().BoolVar(&raw, "raw", false, "print payloads as received")
	return cmd
}

// printAlert writes one line per alert; payloads that are not alert events
// are printed indented as generic JSON.
func printAlert(w io.Writer, topic string, payload []byte) {
	var ev core.AlertEvent
	if err := json.Unmarshal(payload, &ev); err != nil || ev.AlertID == 0 {
		var generic map[string]any
		if json.Unmarshal(payload, &generic) != nil {
			fmt.Fprintf(w, "%s (not JSON) %s\n", topic, payload)
			return
		}
		pretty, _ := json.MarshalIndent(generic, "", "  ")
		fmt.Fprintf(w, "%s\n%s\n", topic, pretty)
		return
	}

	line := fmt.Sprintf("%s  cam=%d  %-8s  %-16s  score=%3.0f%%  %s",
		ev.Timestamp.Local().Format(time.DateTime),
		ev.CameraID,
		strings.ToUpper(string(ev.Severity)),
		ev.Type,
		ev.Score,
		ev.Message,
	)
	if ev.SnapshotPath != "" {
		line += "  [" + ev.SnapshotPath + "]"
	}
	fmt.Fprintln(w, line)
}
